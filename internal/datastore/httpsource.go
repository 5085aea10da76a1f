package datastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pharma-orchestrator/internal/common/config"
	httpclient "pharma-orchestrator/internal/common/http"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/models"
)

// Dataset names used for HTTP paths, cache keys and metrics.
const (
	DatasetMarket       = "market"
	DatasetPatents      = "patents"
	DatasetTrials       = "trials"
	DatasetSentiment    = "sentiment"
	DatasetCompetitors  = "competitors"
	DatasetTrade        = "trade"
	DatasetInternalDocs = "internal_docs"
)

const defaultCacheTTL = 1800 * time.Second

// HTTPSource reads datasets from an external data API. Raw response bodies are
// cached in Redis under cache:<dataset>:<sha256(url)>.
type HTTPSource struct {
	baseURL string
	apiKey  string
	paths   map[string]string
	http    *httpclient.Client
	cache   redis.UniversalClient
	ttl     time.Duration
	logger  logger.Logger
}

// NewHTTPSource returns nil when no base URL is configured. cache may be nil.
func NewHTTPSource(cfg config.DataSourcesConfig, cache redis.UniversalClient, log logger.Logger) *HTTPSource {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil
	}
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := time.Duration(cfg.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		paths:   cfg.Paths,
		http:    httpclient.NewClient(timeout, 2),
		cache:   cache,
		ttl:     ttl,
		logger:  log.With(map[string]interface{}{"component": "datastore.http"}),
	}
}

// Serves reports whether a path is configured for dataset.
func (s *HTTPSource) Serves(dataset string) bool {
	return s != nil && s.paths[dataset] != ""
}

func cacheKey(dataset, u string) string {
	sum := sha256.Sum256([]byte(u))
	return fmt.Sprintf("cache:%s:%s", dataset, hex.EncodeToString(sum[:]))
}

// fetch returns the dataset's items, unwrapping a {"results": [...]} envelope.
func (s *HTTPSource) fetch(ctx context.Context, dataset string, params url.Values) ([]json.RawMessage, error) {
	u := s.baseURL + s.paths[dataset]
	if enc := params.Encode(); enc != "" {
		u += "?" + enc
	}
	key := cacheKey(dataset, u)

	if s.cache != nil {
		if val, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			if items, err := decodeItems(val); err == nil {
				s.logger.Debug("data cache hit", map[string]interface{}{"dataset": dataset})
				return items, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("data cache read failed", map[string]interface{}{"dataset": dataset, "error": err.Error()})
		}
	}

	headers := map[string]string{}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}
	var body json.RawMessage
	if err := s.http.DoJSON(ctx, http.MethodGet, u, headers, nil, &body); err != nil {
		return nil, err
	}
	items, err := decodeItems(body)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(items) > 0 {
		if err := s.cache.Set(ctx, key, []byte(body), s.ttl).Err(); err != nil {
			s.logger.Warn("data cache write failed", map[string]interface{}{"dataset": dataset, "error": err.Error()})
		}
	}
	return items, nil
}

func decodeItems(raw []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var env struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode data envelope: %w", err)
		}
		return env.Results, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode data items: %w", err)
	}
	return items, nil
}

// contains is a case-insensitive substring test; an empty want matches everything.
func contains(have, want string) bool {
	return want == "" || strings.Contains(strings.ToLower(have), strings.ToLower(want))
}

// sameFold is a case-insensitive exact match; an empty want matches everything.
func sameFold(have, want string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want))
}

func params(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			v.Set(kv[i], kv[i+1])
		}
	}
	return v
}

func capped[T any](in []T, f Filter) []T {
	if len(in) > f.limit() {
		return in[:f.limit()]
	}
	return in
}

func (s *HTTPSource) MarketData(ctx context.Context, f Filter) ([]models.MarketRecord, error) {
	items, err := s.fetch(ctx, DatasetMarket, params("molecule", f.Molecule, "therapy_area", f.TherapyArea, "region", f.Region))
	if err != nil {
		return nil, err
	}
	out := []models.MarketRecord{}
	for _, raw := range items {
		var r models.MarketRecord
		if json.Unmarshal(raw, &r) != nil || r.Molecule == "" {
			continue
		}
		if contains(r.Molecule, f.Molecule) && contains(r.TherapyArea, f.TherapyArea) &&
			sameFold(r.Region, f.Region) && contains(r.Indication, f.Indication) {
			out = append(out, r)
		}
	}
	return capped(out, f), nil
}

// LowCompetitionMarkets filters the market dataset to low or medium competition.
func (s *HTTPSource) LowCompetitionMarkets(ctx context.Context, f Filter) ([]models.MarketRecord, error) {
	all, err := s.MarketData(ctx, Filter{TherapyArea: f.TherapyArea, Region: f.Region, Limit: 1 << 16})
	if err != nil {
		return nil, err
	}
	return capped(lowCompetition(all), f), nil
}

type patentItem struct {
	models.PatentRecord
	Type    string       `json:"type"`
	Patents []patentItem `json:"patents"`
}

func (p patentItem) record(molecule string) models.PatentRecord {
	r := p.PatentRecord
	if r.Molecule == "" {
		r.Molecule = molecule
	}
	if r.PatentType == "" {
		r.PatentType = p.Type
	}
	if r.Status == "" {
		r.Status = "Active"
	}
	if r.Country == "" {
		r.Country = "US"
	}
	return r
}

// Patents accepts both flat rows and {molecule, patents: [...]} groups.
func (s *HTTPSource) Patents(ctx context.Context, f Filter) ([]models.PatentRecord, error) {
	items, err := s.fetch(ctx, DatasetPatents, params("molecule", f.Molecule))
	if err != nil {
		return nil, err
	}
	var flat []models.PatentRecord
	for _, raw := range items {
		var it patentItem
		if json.Unmarshal(raw, &it) != nil {
			continue
		}
		if len(it.Patents) > 0 {
			for _, p := range it.Patents {
				flat = append(flat, p.record(it.Molecule))
			}
			continue
		}
		flat = append(flat, it.record(""))
	}

	out := []models.PatentRecord{}
	for _, r := range flat {
		if r.PatentNumber == "" {
			continue
		}
		if contains(r.Molecule, f.Molecule) && sameFold(r.Country, f.Country) {
			out = append(out, r)
		}
	}
	return capped(out, f), nil
}

type trialGroup struct {
	models.TrialRecord
	ActiveTrials []models.TrialRecord `json:"active_trials"`
}

// ClinicalTrials accepts both flat rows and {indication, therapy_area, active_trials: [...]} groups.
func (s *HTTPSource) ClinicalTrials(ctx context.Context, f Filter) ([]models.TrialRecord, error) {
	items, err := s.fetch(ctx, DatasetTrials, params("drug_name", f.Molecule, "therapy_area", f.TherapyArea))
	if err != nil {
		return nil, err
	}
	var flat []models.TrialRecord
	for _, raw := range items {
		var g trialGroup
		if json.Unmarshal(raw, &g) != nil {
			continue
		}
		if len(g.ActiveTrials) == 0 {
			flat = append(flat, g.TrialRecord)
			continue
		}
		for _, t := range g.ActiveTrials {
			t.Indication = g.Indication
			t.TherapyArea = g.TherapyArea
			t.PatientBurdenScore = g.PatientBurdenScore
			t.CompetitionDensity = g.CompetitionDensity
			t.UnmetNeed = g.UnmetNeed
			flat = append(flat, t)
		}
	}

	out := []models.TrialRecord{}
	for _, r := range flat {
		if r.NCTID == "" && r.DrugName == "" {
			continue
		}
		if contains(r.DrugName, f.Molecule) && contains(r.TherapyArea, f.TherapyArea) && contains(r.Indication, f.Indication) {
			out = append(out, r)
		}
	}
	return capped(out, f), nil
}

type sentimentItem struct {
	models.SentimentPost
	Complaint string `json:"complaint"`
	Post      string `json:"post"`
}

func (s *HTTPSource) PatientSentiment(ctx context.Context, f Filter) ([]models.SentimentPost, error) {
	items, err := s.fetch(ctx, DatasetSentiment, params("therapy_area", f.TherapyArea, "molecule", f.Molecule))
	if err != nil {
		return nil, err
	}
	out := []models.SentimentPost{}
	for _, raw := range items {
		var it sentimentItem
		if json.Unmarshal(raw, &it) != nil {
			continue
		}
		r := it.SentimentPost
		if r.ComplaintTheme == "" {
			r.ComplaintTheme = it.Complaint
		}
		if r.PostText == "" {
			r.PostText = it.Post
		}
		if contains(r.TherapyArea, f.TherapyArea) && contains(r.Molecule, f.Molecule) {
			out = append(out, r)
		}
	}
	return capped(out, f), nil
}

type competitorItem struct {
	models.CompetitorRecord
	Competitor string `json:"competitor"`
	Company    string `json:"company"`
	Strategy   string `json:"strategy"`
}

func (s *HTTPSource) CompetitorIntel(ctx context.Context, f Filter) ([]models.CompetitorRecord, error) {
	items, err := s.fetch(ctx, DatasetCompetitors, params("molecule", f.Molecule))
	if err != nil {
		return nil, err
	}
	out := []models.CompetitorRecord{}
	for _, raw := range items {
		var it competitorItem
		if json.Unmarshal(raw, &it) != nil {
			continue
		}
		r := it.CompetitorRecord
		for _, name := range []string{it.Competitor, it.Company} {
			if r.CompetitorName == "" {
				r.CompetitorName = name
			}
		}
		if r.PredictedStrategy == "" {
			r.PredictedStrategy = it.Strategy
		}
		if r.CompetitorName != "" && contains(r.Molecule, f.Molecule) {
			out = append(out, r)
		}
	}
	return capped(out, f), nil
}

func (s *HTTPSource) TradeData(ctx context.Context, f Filter) ([]models.TradeRecord, error) {
	items, err := s.fetch(ctx, DatasetTrade, params("molecule", f.Molecule))
	if err != nil {
		return nil, err
	}
	out := []models.TradeRecord{}
	for _, raw := range items {
		var r models.TradeRecord
		if json.Unmarshal(raw, &r) != nil || r.Molecule == "" {
			continue
		}
		if contains(r.Molecule, f.Molecule) {
			out = append(out, r)
		}
	}
	return capped(out, f), nil
}
