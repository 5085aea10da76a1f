package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/models"
)

const defaultTrialArea = "Oncology"

var phaseRank = map[string]int{"IV": 0, "III": 1, "II": 2, "I": 3}

// rankPhase orders "Phase III", "III" and "3" alike; unknown phases sort last.
func rankPhase(phase string) int {
	p := strings.ToUpper(strings.TrimSpace(phase))
	p = strings.TrimSpace(strings.TrimPrefix(p, "PHASE"))
	switch p {
	case "4":
		p = "IV"
	case "3":
		p = "III"
	case "2":
		p = "II"
	case "1":
		p = "I"
	}
	if r, ok := phaseRank[p]; ok {
		return r
	}
	return len(phaseRank)
}

func (e *Executor) clinical(ctx context.Context, req Request) (string, error) {
	store, err := e.store(req)
	if err != nil {
		return "", err
	}
	q := strings.ToLower(req.Query)

	if molecule := e.entity(req, models.EntityMolecule, ""); molecule != "" && containsAny(q, "repurpos", "new indication") {
		trials, err := store.ClinicalTrials(ctx, datastore.Filter{Molecule: molecule})
		if err != nil {
			return "", err
		}
		return formatRepurposing(molecule, trials), nil
	}

	ta := e.entity(req, models.EntityTherapyArea, defaultTrialArea)
	trials, err := store.ClinicalTrials(ctx, datastore.Filter{TherapyArea: ta})
	if err != nil {
		return "", err
	}
	return formatTrials(ta, trials), nil
}

func formatRepurposing(molecule string, trials []models.TrialRecord) string {
	if len(trials) == 0 {
		return fmt.Sprintf("No repurposing opportunities found for %s in clinical trials.", molecule)
	}

	sorted := append([]models.TrialRecord(nil), trials...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankPhase(sorted[i].Phase) < rankPhase(sorted[j].Phase)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "**Repurposing Opportunities for %s:**\n", molecule)
	for _, t := range sorted {
		potential := "MEDIUM"
		if rankPhase(t.Phase) <= phaseRank["III"] && strings.EqualFold(t.CompetitionDensity, "Low") {
			potential = "HIGH"
		}
		fmt.Fprintf(&b, "\n- **%s** (%s)\n  Phase: %s | Sponsor: %s\n  Competition: %s | Unmet Need: %s\n  **Repurposing Potential: %s**\n",
			t.Indication, t.TherapyArea, t.Phase, t.Sponsor, t.CompetitionDensity, t.UnmetNeed, potential)
	}
	return b.String()
}

func formatTrials(ta string, trials []models.TrialRecord) string {
	if len(trials) == 0 {
		return fmt.Sprintf("No clinical trial data found for therapy area: %s", ta)
	}

	var order []string
	groups := make(map[string][]models.TrialRecord)
	for _, t := range trials {
		if _, ok := groups[t.Indication]; !ok {
			order = append(order, t.Indication)
		}
		groups[t.Indication] = append(groups[t.Indication], t)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Clinical Trial Landscape for %s:**\n", ta)
	for _, indication := range order {
		group := groups[indication]
		head := group[0]
		fmt.Fprintf(&b, "\n**%s** (%s)\n  Competition Density: %s | Unmet Need: %s | Patient Burden: %s\n  Active Trials: %d\n",
			indication, head.TherapyArea, head.CompetitionDensity, head.UnmetNeed, trimNumber(head.PatientBurdenScore), len(group))
		for _, t := range group {
			fmt.Fprintf(&b, "    - [%s] %s (Sponsor: %s) - %s\n", t.Phase, t.DrugName, t.Sponsor, t.NCTID)
		}
	}
	return b.String()
}
