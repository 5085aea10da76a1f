package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/models"
)

const defaultPatentMolecule = "Rivaroxaban"

func (e *Executor) patent(ctx context.Context, req Request) (string, error) {
	store, err := e.store(req)
	if err != nil {
		return "", err
	}
	molecule := e.entity(req, models.EntityMolecule, defaultPatentMolecule)
	q := strings.ToLower(req.Query)
	now := e.now()

	switch {
	case containsAny(q, "fto", "freedom"):
		patents, err := store.Patents(ctx, datastore.Filter{Molecule: molecule})
		if err != nil {
			return "", err
		}
		return assessFTO(molecule, patents, now), nil
	case containsAny(q, "expiry", "expire", "when"):
		patents, err := store.Patents(ctx, datastore.Filter{Molecule: molecule, Country: "US"})
		if err != nil {
			return "", err
		}
		return formatExpiry(molecule, "US", patents, now), nil
	default:
		patents, err := store.Patents(ctx, datastore.Filter{Molecule: molecule})
		if err != nil {
			return "", err
		}
		return formatLandscape(molecule, patents, now), nil
	}
}

func isExpired(p models.PatentRecord, now time.Time) bool {
	if strings.EqualFold(p.Status, "Expired") {
		return true
	}
	t, ok := p.Expiry()
	return ok && t.Before(now)
}

func noPatents(molecule string) string {
	return fmt.Sprintf("No patent data found for molecule: %s. This molecule may not be in our database.", molecule)
}

func formatExpiry(molecule, country string, patents []models.PatentRecord, now time.Time) string {
	if len(patents) == 0 {
		return noPatents(molecule)
	}

	var active, expired []models.PatentRecord
	for _, p := range patents {
		if isExpired(p, now) {
			expired = append(expired, p)
		} else {
			active = append(active, p)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Patent Expiry Analysis for %s (%s):**\n\n", molecule, country)

	if len(active) == 0 {
		b.WriteString("**GENERIC ENTRY POSSIBLE** - All patents expired\n\nExpired Patents:\n")
		for _, p := range expired {
			fmt.Fprintf(&b, "  - %s (%s): Expired %s\n", p.PatentNumber, p.PatentType, p.ExpiryDate)
		}
		return b.String()
	}

	// undated patents sort last
	sort.SliceStable(active, func(i, j int) bool {
		ti, oki := active[i].Expiry()
		tj, okj := active[j].Expiry()
		if oki != okj {
			return oki
		}
		return ti.Before(tj)
	})

	if t, ok := active[0].Expiry(); ok {
		days := daysUntil(t, now)
		if days < 365 {
			fmt.Fprintf(&b, "**PATENT EXPIRING SOON** - %d days remaining\n\n", days)
		} else {
			fmt.Fprintf(&b, "**PATENT PROTECTED** - ~%d years remaining\n\n", days/365)
		}
	} else {
		b.WriteString("**PATENT PROTECTED** - expiry date unknown\n\n")
	}

	b.WriteString("Active Patents:\n")
	for _, p := range active {
		fmt.Fprintf(&b, "  - %s (%s): Expires %s\n", p.PatentNumber, p.PatentType, p.ExpiryDate)
	}
	return b.String()
}

func formatLandscape(molecule string, patents []models.PatentRecord, now time.Time) string {
	if len(patents) == 0 {
		return noPatents(molecule)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Patent Landscape for %s:**\n", molecule)
	for _, p := range patents {
		fmt.Fprintf(&b, "\n- **%s** (%s)\n  Status: %s | Expiry: %s\n  %s\n",
			p.PatentNumber, p.PatentType, p.Status, p.ExpiryDate, timeToExpiry(p, now))
	}
	return b.String()
}

func timeToExpiry(p models.PatentRecord, now time.Time) string {
	t, ok := p.Expiry()
	if !ok {
		return "Expiry date unknown"
	}
	days := daysUntil(t, now)
	switch {
	case days < 0:
		return fmt.Sprintf("Expired %d days ago", -days)
	case days < 365:
		return fmt.Sprintf("Expires in %d days (< 1 year)", days)
	default:
		return fmt.Sprintf("Expires in ~%d years", days/365)
	}
}

func assessFTO(molecule string, patents []models.PatentRecord, now time.Time) string {
	if len(patents) == 0 {
		return noPatents(molecule)
	}

	var composition, formulation int
	for _, p := range patents {
		if isExpired(p, now) {
			continue
		}
		kind := strings.ToLower(p.PatentType)
		switch {
		case strings.Contains(kind, "composition"):
			composition++
		case strings.Contains(kind, "formulation"):
			formulation++
		}
	}

	risk, explanation := "LOW", "No active blocking patents - clear path for generic development"
	switch {
	case composition > 0:
		risk, explanation = "HIGH", "Active Composition of Matter patent blocks generic development"
	case formulation > 0:
		risk, explanation = "MEDIUM", "Formulation patents exist but can potentially be designed around"
	}

	return fmt.Sprintf("**FTO Risk Assessment for %s:**\n\nRisk Level: **%s**\nExplanation: %s\n\nActive Composition Patents: %d\nActive Formulation Patents: %d",
		molecule, risk, explanation, composition, formulation)
}
