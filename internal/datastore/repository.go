package datastore

import (
	"context"
	"sort"
	"strings"

	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/search"
)

// Store is the lookup surface the agents depend on.
type Store interface {
	MarketData(ctx context.Context, f Filter) ([]models.MarketRecord, error)
	LowCompetitionMarkets(ctx context.Context, f Filter) ([]models.MarketRecord, error)
	Patents(ctx context.Context, f Filter) ([]models.PatentRecord, error)
	ClinicalTrials(ctx context.Context, f Filter) ([]models.TrialRecord, error)
	PatientSentiment(ctx context.Context, f Filter) ([]models.SentimentPost, error)
	CompetitorIntel(ctx context.Context, f Filter) ([]models.CompetitorRecord, error)
	TradeData(ctx context.Context, f Filter) ([]models.TradeRecord, error)
	InternalDocs(ctx context.Context, f Filter) ([]models.InternalDoc, error)
}

// Repository composes the configured sources into one chain per dataset.
// Order: PostgreSQL, HTTP data API, web search. Internal docs: Elasticsearch, PostgreSQL.
// Any source may be nil.
type Repository struct {
	pg     *PostgresStore
	http   *HTTPSource
	docs   *ElasticDocs
	web    *WebSource
	logger logger.Logger
}

func NewRepository(pg *PostgresStore, httpSrc *HTTPSource, docs *ElasticDocs, log logger.Logger) *Repository {
	return &Repository{pg: pg, http: httpSrc, docs: docs, logger: log}
}

// WithWeb returns a copy that falls back to s for the datasets web search can
// approximate. Bind s to the caller so its quota is charged.
func (r *Repository) WithWeb(s search.Searcher) *Repository {
	cp := *r
	if s != nil {
		cp.web = NewWebSource(s)
	}
	return &cp
}

func (r *Repository) MarketData(ctx context.Context, f Filter) ([]models.MarketRecord, error) {
	var sources []Source[models.MarketRecord]
	if r.pg != nil {
		sources = append(sources, Source[models.MarketRecord]{Name: "postgres", Fetch: r.pg.MarketData})
	}
	if r.http.Serves(DatasetMarket) {
		sources = append(sources, Source[models.MarketRecord]{Name: "http", Fetch: r.http.MarketData})
	}
	if r.web != nil {
		sources = append(sources, Source[models.MarketRecord]{Name: "web", Fetch: r.web.MarketData})
	}
	return NewChain(DatasetMarket, r.logger, sources...).Lookup(ctx, f)
}

// LowCompetitionMarkets has no web fallback: search hits carry no competition level.
func (r *Repository) LowCompetitionMarkets(ctx context.Context, f Filter) ([]models.MarketRecord, error) {
	var sources []Source[models.MarketRecord]
	if r.pg != nil {
		sources = append(sources, Source[models.MarketRecord]{Name: "postgres", Fetch: r.pg.LowCompetitionMarkets})
	}
	if r.http.Serves(DatasetMarket) {
		sources = append(sources, Source[models.MarketRecord]{Name: "http", Fetch: r.http.LowCompetitionMarkets})
	}
	return NewChain(DatasetMarket, r.logger, sources...).Lookup(ctx, f)
}

func (r *Repository) Patents(ctx context.Context, f Filter) ([]models.PatentRecord, error) {
	var sources []Source[models.PatentRecord]
	if r.pg != nil {
		sources = append(sources, Source[models.PatentRecord]{Name: "postgres", Fetch: r.pg.Patents})
	}
	if r.http.Serves(DatasetPatents) {
		sources = append(sources, Source[models.PatentRecord]{Name: "http", Fetch: r.http.Patents})
	}
	if r.web != nil {
		sources = append(sources, Source[models.PatentRecord]{Name: "web", Fetch: r.web.Patents})
	}
	return NewChain(DatasetPatents, r.logger, sources...).Lookup(ctx, f)
}

func (r *Repository) ClinicalTrials(ctx context.Context, f Filter) ([]models.TrialRecord, error) {
	var sources []Source[models.TrialRecord]
	if r.pg != nil {
		sources = append(sources, Source[models.TrialRecord]{Name: "postgres", Fetch: r.pg.ClinicalTrials})
	}
	if r.http.Serves(DatasetTrials) {
		sources = append(sources, Source[models.TrialRecord]{Name: "http", Fetch: r.http.ClinicalTrials})
	}
	if r.web != nil {
		sources = append(sources, Source[models.TrialRecord]{Name: "web", Fetch: r.web.ClinicalTrials})
	}
	return NewChain(DatasetTrials, r.logger, sources...).Lookup(ctx, f)
}

func (r *Repository) PatientSentiment(ctx context.Context, f Filter) ([]models.SentimentPost, error) {
	var sources []Source[models.SentimentPost]
	if r.pg != nil {
		sources = append(sources, Source[models.SentimentPost]{Name: "postgres", Fetch: r.pg.PatientSentiment})
	}
	if r.http.Serves(DatasetSentiment) {
		sources = append(sources, Source[models.SentimentPost]{Name: "http", Fetch: r.http.PatientSentiment})
	}
	return NewChain(DatasetSentiment, r.logger, sources...).Lookup(ctx, f)
}

func (r *Repository) CompetitorIntel(ctx context.Context, f Filter) ([]models.CompetitorRecord, error) {
	var sources []Source[models.CompetitorRecord]
	if r.pg != nil {
		sources = append(sources, Source[models.CompetitorRecord]{Name: "postgres", Fetch: r.pg.CompetitorIntel})
	}
	if r.http.Serves(DatasetCompetitors) {
		sources = append(sources, Source[models.CompetitorRecord]{Name: "http", Fetch: r.http.CompetitorIntel})
	}
	if r.web != nil {
		sources = append(sources, Source[models.CompetitorRecord]{Name: "web", Fetch: r.web.CompetitorIntel})
	}
	return NewChain(DatasetCompetitors, r.logger, sources...).Lookup(ctx, f)
}

func (r *Repository) TradeData(ctx context.Context, f Filter) ([]models.TradeRecord, error) {
	var sources []Source[models.TradeRecord]
	if r.pg != nil {
		sources = append(sources, Source[models.TradeRecord]{Name: "postgres", Fetch: r.pg.TradeData})
	}
	if r.http.Serves(DatasetTrade) {
		sources = append(sources, Source[models.TradeRecord]{Name: "http", Fetch: r.http.TradeData})
	}
	return NewChain(DatasetTrade, r.logger, sources...).Lookup(ctx, f)
}

func (r *Repository) InternalDocs(ctx context.Context, f Filter) ([]models.InternalDoc, error) {
	var sources []Source[models.InternalDoc]
	if r.docs != nil {
		sources = append(sources, Source[models.InternalDoc]{Name: "elasticsearch", Fetch: r.docs.InternalDocs})
	}
	if r.pg != nil {
		sources = append(sources, Source[models.InternalDoc]{Name: "postgres", Fetch: r.pg.InternalDocs})
	}
	return NewChain(DatasetInternalDocs, r.logger, sources...).Lookup(ctx, f)
}

// lowCompetition keeps low or medium competition markets, highest CAGR first.
func lowCompetition(in []models.MarketRecord) []models.MarketRecord {
	out := make([]models.MarketRecord, 0, len(in))
	for _, m := range in {
		level := strings.ToLower(m.CompetitionLevel)
		if level == "" {
			level = strings.ToLower(m.GenericPenetration)
		}
		if level == "low" || level == "medium" {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CAGRPercent > out[j].CAGRPercent })
	return out
}
