package agents

import (
	"context"
	"fmt"
	"strings"

	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/models"
)

const (
	defaultOpportunityArea   = "Oncology"
	defaultOpportunityRegion = "India"
)

func (e *Executor) market(ctx context.Context, req Request) (string, error) {
	store, err := e.store(req)
	if err != nil {
		return "", err
	}
	q := strings.ToLower(req.Query)

	if containsAny(q, "whitespace", "low competition", "opportunit") {
		ta := e.entity(req, models.EntityTherapyArea, defaultOpportunityArea)
		region := e.entity(req, models.EntityRegion, defaultOpportunityRegion)
		markets, err := store.LowCompetitionMarkets(ctx, datastore.Filter{TherapyArea: ta, Region: region})
		if err != nil {
			return "", err
		}
		return formatOpportunities(ta, region, markets), nil
	}

	f := datastore.Filter{
		Molecule: e.entity(req, models.EntityMolecule, ""),
		Region:   e.entity(req, models.EntityRegion, ""),
	}
	if f.Molecule == "" {
		f.TherapyArea = e.entity(req, models.EntityTherapyArea, defaultOpportunityArea)
	} else {
		f.TherapyArea = e.entity(req, models.EntityTherapyArea, "")
	}
	markets, err := store.MarketData(ctx, f)
	if err != nil {
		return "", err
	}
	return formatMarkets(f, markets), nil
}

func formatMarkets(f datastore.Filter, markets []models.MarketRecord) string {
	if len(markets) == 0 {
		what := fmt.Sprintf("therapy_area='%s'", f.TherapyArea)
		if f.Molecule != "" {
			what = fmt.Sprintf("molecule='%s'", f.Molecule)
		}
		return fmt.Sprintf("No market data found for %s. Try different search terms or check available data in the database.", what)
	}

	entries := make([]string, 0, len(markets))
	for _, m := range markets {
		entries = append(entries, fmt.Sprintf(
			"**%s** (%s):\n  - Therapy Area: %s\n  - Market Size: $%sM USD\n  - CAGR: %s%%\n  - Top Competitors: %s\n  - Generic Penetration: %s\n  - Patient Burden: %s\n  - Competition Level: %s",
			m.Molecule, m.Region, m.TherapyArea, trimNumber(m.MarketSizeUSDMn), trimNumber(m.CAGRPercent),
			orDefault(strings.Join(m.TopCompetitors, ", "), "N/A"),
			orDefault(m.GenericPenetration, "N/A"), orDefault(m.PatientBurden, "N/A"), orDefault(m.CompetitionLevel, "N/A"),
		))
	}
	return strings.Join(entries, "\n\n")
}

func formatOpportunities(ta, region string, markets []models.MarketRecord) string {
	if len(markets) == 0 {
		return fmt.Sprintf("No low competition opportunities found in %s for %s. Try different therapy areas like: Respiratory, Oncology, Diabetes, Cardiology.", ta, region)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Whitespace Opportunities in %s (%s):**\n", ta, region)
	for _, m := range markets {
		competition := orDefault(m.CompetitionLevel, m.GenericPenetration)
		fmt.Fprintf(&b, "\n- **%s** (%s)\n  Market: $%sM | CAGR: %s%% | Competition: %s | Patient Burden: %s",
			m.Molecule, orDefault(m.Indication, "N/A"), trimNumber(m.MarketSizeUSDMn), trimNumber(m.CAGRPercent),
			orDefault(competition, "N/A"), orDefault(m.PatientBurden, "N/A"))
	}
	return b.String()
}
