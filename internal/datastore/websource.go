package datastore

import (
	"context"
	"strings"

	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/search"
)

const webFallbackResults = 3

// WebSource turns web search hits into placeholder records when no structured
// source has data. Only the title and snippet are trustworthy; numeric fields stay zero.
type WebSource struct {
	searcher search.Searcher
}

func NewWebSource(s search.Searcher) *WebSource {
	return &WebSource{searcher: s}
}

func webQuery(base string, terms ...string) string {
	parts := []string{}
	for _, t := range terms {
		if t != "" {
			parts = append(parts, t)
		}
	}
	parts = append(parts, base)
	return strings.Join(parts, " ")
}

func (w *WebSource) MarketData(ctx context.Context, f Filter) ([]models.MarketRecord, error) {
	hits, err := w.searcher.Search(ctx, webQuery("pharma market size CAGR competitive landscape", f.Molecule, f.TherapyArea, f.Region), webFallbackResults)
	if err != nil {
		return nil, err
	}
	out := make([]models.MarketRecord, 0, len(hits))
	for _, h := range hits {
		therapyArea := f.TherapyArea
		if therapyArea == "" {
			therapyArea = "Mixed"
		}
		out = append(out, models.MarketRecord{
			Molecule:    orUnknown(h.Title),
			Region:      "Global",
			TherapyArea: therapyArea,
		})
	}
	return out, nil
}

func (w *WebSource) Patents(ctx context.Context, f Filter) ([]models.PatentRecord, error) {
	hits, err := w.searcher.Search(ctx, webQuery("drug patent expiry status", f.Molecule), webFallbackResults)
	if err != nil {
		return nil, err
	}
	out := make([]models.PatentRecord, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.PatentRecord{
			Molecule:     orUnknown(h.Title),
			PatentNumber: "N/A",
			PatentType:   "Unknown",
			ExpiryDate:   "Unknown",
			Status:       "Unknown",
			Country:      "US",
		})
	}
	return out, nil
}

func (w *WebSource) ClinicalTrials(ctx context.Context, f Filter) ([]models.TrialRecord, error) {
	hits, err := w.searcher.Search(ctx, webQuery("clinical trial phase III", f.Molecule, f.TherapyArea), webFallbackResults)
	if err != nil {
		return nil, err
	}
	out := make([]models.TrialRecord, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.TrialRecord{
			NCTID:       "N/A",
			Indication:  orUnknown(h.Title),
			TherapyArea: orUnknown(f.TherapyArea),
			Phase:       "Unknown",
			DrugName:    orUnknown(h.Title),
			Sponsor:     "Unknown",
		})
	}
	return out, nil
}

func (w *WebSource) CompetitorIntel(ctx context.Context, f Filter) ([]models.CompetitorRecord, error) {
	hits, err := w.searcher.Search(ctx, webQuery("pharma competitor strategy launch generic", f.Molecule), webFallbackResults)
	if err != nil {
		return nil, err
	}
	out := make([]models.CompetitorRecord, 0, len(hits))
	for _, h := range hits {
		if h.Title == "" {
			continue
		}
		strategy := []rune(h.Snippet)
		if len(strategy) > 200 {
			strategy = strategy[:200]
		}
		out = append(out, models.CompetitorRecord{
			Molecule:          f.Molecule,
			CompetitorName:    h.Title,
			PredictedStrategy: string(strategy),
			Likelihood:        "Unknown",
		})
	}
	return out, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
