package agents

import (
	"context"
	"fmt"
	"strings"

	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/models"
)

const (
	defaultTradeMolecule = "Metformin"
	highValueAPIPrice    = 10000
	commodityAPIPrice    = 500
)

func (e *Executor) trade(ctx context.Context, req Request) (string, error) {
	store, err := e.store(req)
	if err != nil {
		return "", err
	}
	molecule := e.entity(req, models.EntityMolecule, defaultTradeMolecule)
	records, err := store.TradeData(ctx, datastore.Filter{Molecule: molecule, Limit: 1})
	if err != nil {
		return "", err
	}
	return formatTrade(molecule, records), nil
}

func formatTrade(molecule string, records []models.TradeRecord) string {
	if len(records) == 0 {
		return fmt.Sprintf("No EXIM trade data found for molecule: %s. This API may not be in our database.", molecule)
	}
	r := records[0]

	var b strings.Builder
	fmt.Fprintf(&b, "**EXIM Trade Data for %s:**\n\n", orDefault(r.Molecule, molecule))
	fmt.Fprintf(&b, "**Import Volume:** %s kg\n", grouped(r.TotalImportVolumeKg, 0))
	fmt.Fprintf(&b, "**Average Price:** $%s/kg\n", grouped(r.AveragePricePerKg, 2))
	fmt.Fprintf(&b, "**Estimated Total Value:** $%s\n\n", grouped(r.TotalImportVolumeKg*r.AveragePricePerKg, 0))

	b.WriteString("**Major Source Countries:**\n")
	for _, c := range r.MajorSourceCountries {
		fmt.Fprintf(&b, "  - %s\n", c)
	}

	switch {
	case r.AveragePricePerKg > highValueAPIPrice:
		b.WriteString("\n**High-value API** - Likely biologic or specialty drug")
	case r.AveragePricePerKg < commodityAPIPrice:
		b.WriteString("\n**Commodity API** - Multiple suppliers available")
	}
	return b.String()
}
