package agents

import (
	"context"
	"fmt"
	"strings"

	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/models"
)

const (
	defaultWarGameMolecule = "Rivaroxaban"
	defaultWarGameStrategy = "Competitive entry assessment"
)

var likelihoodScore = map[string]float64{"high": 3, "medium": 2}

var recommendations = map[string][]string{
	"HIGH": {
		"High competitive response expected - consider phased approach",
		"Build war chest for potential price competition",
		"Secure supply chain before announcement",
	},
	"MEDIUM": {
		"Prepare for moderate competitive response",
		"Focus on differentiation beyond price",
	},
	"LOW": {
		"Limited competitive response expected",
		"First-mover advantage possible",
	},
}

func (e *Executor) competitor(ctx context.Context, req Request) (string, error) {
	store, err := e.store(req)
	if err != nil {
		return "", err
	}
	molecule := e.entity(req, models.EntityMolecule, defaultWarGameMolecule)
	intel, err := store.CompetitorIntel(ctx, datastore.Filter{Molecule: molecule})
	if err != nil {
		return "", err
	}
	return warGame(molecule, orDefault(req.Query, defaultWarGameStrategy), intel), nil
}

func counterMove(strategy, predicted string) string {
	s := strings.ToLower(strategy)
	switch {
	case containsAny(s, "price", "discount"):
		return "Likely to match or undercut pricing. " + predicted
	case containsAny(s, "launch", "generic"):
		return "May accelerate own launch timeline. " + predicted
	default:
		return predicted
	}
}

func overallRisk(intel []models.CompetitorRecord) string {
	var sum float64
	for _, c := range intel {
		score, ok := likelihoodScore[strings.ToLower(c.Likelihood)]
		if !ok {
			score = 1
		}
		sum += score
	}
	avg := sum / float64(len(intel))
	switch {
	case avg > 2.5:
		return "HIGH"
	case avg > 1.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func warGame(molecule, strategy string, intel []models.CompetitorRecord) string {
	if len(intel) == 0 {
		return fmt.Sprintf("No competitor data available for war gaming: %s. This molecule may not be in our database.", molecule)
	}

	lines := []string{
		fmt.Sprintf("**War Game Simulation: %s**", molecule),
		fmt.Sprintf("**Your Proposed Strategy:** %s", strategy),
		"\n**Predicted Competitor Responses:**",
	}
	for _, c := range intel {
		lines = append(lines, fmt.Sprintf("**%s:**\n  Likely Counter: %s\n  Probability: %s | Impact: %s",
			c.CompetitorName, counterMove(strategy, c.PredictedStrategy), c.Likelihood, orDefault(c.Impact, "Unknown")))
	}

	risk := overallRisk(intel)
	lines = append(lines, fmt.Sprintf("\n**Overall Risk Assessment: %s**", risk), "\n**Strategic Recommendations:**")
	for _, r := range recommendations[risk] {
		lines = append(lines, "  - "+r)
	}
	return strings.Join(lines, "\n")
}
