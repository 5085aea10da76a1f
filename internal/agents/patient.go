package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/models"
)

const (
	defaultPatientArea = "Diabetes"
	topOpportunities   = 3
)

var innovationByTheme = map[string]string{
	"needle pain":       "Develop oral or transdermal formulation",
	"side effects":      "Invest in better-tolerated next-gen compounds",
	"storage issues":    "Develop room-temperature stable formulation",
	"cost":              "Launch value brand or patient assistance program",
	"ease of use":       "Simplify device or reduce dosing frequency",
	"device complexity": "Develop simpler delivery device",
	"convenience":       "Create more portable/discreet formulation",
}

type themeCount struct {
	theme string
	count int
}

func (e *Executor) patient(ctx context.Context, req Request) (string, error) {
	store, err := e.store(req)
	if err != nil {
		return "", err
	}
	ta := e.entity(req, models.EntityTherapyArea, defaultPatientArea)
	posts, err := store.PatientSentiment(ctx, datastore.Filter{
		TherapyArea: ta,
		Molecule:    e.entity(req, models.EntityMolecule, ""),
	})
	if err != nil {
		return "", err
	}
	return formatPatientVoice(ta, posts), nil
}

func sentimentLabel(avg float64) string {
	switch {
	case avg > 0.3:
		return "Positive"
	case avg < -0.3:
		return "Negative"
	default:
		return "Neutral"
	}
}

// rankThemes counts complaint themes, most frequent first, ties in first-seen order.
func rankThemes(posts []models.SentimentPost) []themeCount {
	index := make(map[string]int)
	var themes []themeCount
	for _, p := range posts {
		theme := strings.TrimSpace(p.ComplaintTheme)
		if theme == "" {
			continue
		}
		i, ok := index[theme]
		if !ok {
			i = len(themes)
			index[theme] = i
			themes = append(themes, themeCount{theme: theme})
		}
		themes[i].count++
	}
	sort.SliceStable(themes, func(i, j int) bool { return themes[i].count > themes[j].count })
	return themes
}

func formatPatientVoice(ta string, posts []models.SentimentPost) string {
	if len(posts) == 0 {
		return fmt.Sprintf("No patient data found for therapy area: %s", ta)
	}

	var total float64
	var molecules []string
	seen := make(map[string]bool)
	for _, p := range posts {
		total += p.Sentiment
		if p.Molecule != "" && !seen[p.Molecule] {
			seen[p.Molecule] = true
			molecules = append(molecules, p.Molecule)
		}
	}
	avg := total / float64(len(posts))
	themes := rankThemes(posts)

	var b strings.Builder
	fmt.Fprintf(&b, "**Patient Voice Analysis for %s:**\n\n", ta)
	fmt.Fprintf(&b, "**Posts Analyzed:** %d\n", len(posts))
	fmt.Fprintf(&b, "**Molecules Discussed:** %s\n", orDefault(strings.Join(molecules, ", "), "N/A"))
	fmt.Fprintf(&b, "**Average Sentiment:** %.2f (%s)\n\n", avg, sentimentLabel(avg))

	b.WriteString("**Top Complaint Themes:**\n")
	for _, t := range themes {
		fmt.Fprintf(&b, "  - %s: %d mentions (%.0f%%)\n", t.theme, t.count, float64(t.count)*100/float64(len(posts)))
	}

	b.WriteString("\n**Innovation Opportunities:**\n")
	for i, t := range themes {
		if i == topOpportunities {
			break
		}
		if opp, ok := innovationByTheme[strings.ToLower(t.theme)]; ok {
			fmt.Fprintf(&b, "  - %s (addresses '%s')\n", opp, t.theme)
		}
	}
	return b.String()
}
