// Package agents runs one data-retrieval strategy per agent type and renders
// its findings as markdown.
package agents

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/intent"
	"pharma-orchestrator/internal/llm"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/ratelimit"
	"pharma-orchestrator/internal/search"
)

var ErrUnknownAgent = errors.New("UNKNOWN_AGENT")

// Chatter is the rate-limited LLM call used by the general agent.
type Chatter interface {
	Chat(ctx context.Context, caller models.Caller, purpose string, req llm.ChatRequest) (string, error)
}

// Searcher is the rate-limited web search used by the web agent.
type Searcher interface {
	Search(ctx context.Context, caller models.Caller, query string, maxResults int) ([]search.Result, error)
}

// StoreFor returns the data store to use on behalf of caller.
type StoreFor func(caller models.Caller) datastore.Store

// StaticStore serves every caller from the same store.
func StaticStore(s datastore.Store) StoreFor {
	return func(models.Caller) datastore.Store { return s }
}

// WebBackedStore lets the repository fall back to web search charged to the caller.
func WebBackedStore(repo *datastore.Repository, gw *search.Gateway) StoreFor {
	return func(caller models.Caller) datastore.Store {
		if gw == nil {
			return repo
		}
		return repo.WithWeb(gw.Bind(caller))
	}
}

// Request is everything an agent needs to answer one query.
type Request struct {
	Query    string
	Entities models.Entities
	Caller   models.Caller
}

type Config struct {
	GeneralMaxTokens   int
	GeneralTemperature float64
	WebResults         int
}

func DefaultConfig() Config {
	return Config{GeneralMaxTokens: 1024, GeneralTemperature: 0.3, WebResults: 5}
}

type Executor struct {
	stores    StoreFor
	llm       Chatter
	search    Searcher
	extractor *intent.Extractor
	config    Config
	now       func() time.Time
	logger    logger.Logger
}

func NewExecutor(stores StoreFor, chat Chatter, searcher Searcher, extractor *intent.Extractor, cfg Config, log logger.Logger) *Executor {
	if extractor == nil {
		extractor = intent.NewExtractor(intent.DefaultVocabulary())
	}
	def := DefaultConfig()
	if cfg.GeneralMaxTokens <= 0 {
		cfg.GeneralMaxTokens = def.GeneralMaxTokens
	}
	if cfg.GeneralTemperature <= 0 {
		cfg.GeneralTemperature = def.GeneralTemperature
	}
	if cfg.WebResults <= 0 {
		cfg.WebResults = def.WebResults
	}
	return &Executor{
		stores:    stores,
		llm:       chat,
		search:    searcher,
		extractor: extractor,
		config:    cfg,
		now:       time.Now,
		logger:    log.With(map[string]interface{}{"component": "agents"}),
	}
}

// Execute runs one agent. It never panics and never returns an error: failures
// come back as a response with Success=false.
func (e *Executor) Execute(ctx context.Context, agent models.AgentType, req Request) (resp models.AgentResponse) {
	start := time.Now()
	if req.Entities == nil {
		req.Entities = models.Entities{}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("agent panicked", map[string]interface{}{
				"agent": agent,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			resp = models.AgentResponse{AgentType: agent, Error: fmt.Sprintf("agent panicked: %v", r)}
		}
		resp.ExecutionTimeMs = time.Since(start).Milliseconds()
		metrics.AgentExecutions.WithLabelValues(string(agent), metrics.BoolLabel(resp.Success)).Inc()
		metrics.AgentDuration.WithLabelValues(string(agent)).Observe(time.Since(start).Seconds())
	}()

	content, err := e.dispatch(ctx, agent, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		e.logger.Warn("agent failed", map[string]interface{}{
			"agent": agent,
			"error": err.Error(),
		})
		return models.AgentResponse{
			AgentType:     agent,
			Error:         err.Error(),
			QuotaExceeded: errors.Is(err, ratelimit.ErrQuotaExceeded),
		}
	}
	return models.AgentResponse{AgentType: agent, Content: content, Success: true}
}

func (e *Executor) dispatch(ctx context.Context, agent models.AgentType, req Request) (string, error) {
	switch agent {
	case models.AgentMarket:
		return e.market(ctx, req)
	case models.AgentPatent:
		return e.patent(ctx, req)
	case models.AgentClinical:
		return e.clinical(ctx, req)
	case models.AgentPatient:
		return e.patient(ctx, req)
	case models.AgentCompetitor:
		return e.competitor(ctx, req)
	case models.AgentTrade:
		return e.trade(ctx, req)
	case models.AgentInternal:
		return e.internal(ctx, req)
	case models.AgentWeb:
		return e.web(ctx, req)
	case models.AgentGeneral:
		return e.general(ctx, req)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
	}
}

// entity resolves key from the classified entities, then the raw query, then def.
func (e *Executor) entity(req Request, key, def string) string {
	if v := req.Entities[key]; v != "" {
		return v
	}
	if v := e.extractor.Find(key, req.Query); v != "" {
		return v
	}
	return def
}

func (e *Executor) store(req Request) (datastore.Store, error) {
	if e.stores == nil {
		return nil, errors.New("no data store configured")
	}
	s := e.stores(req.Caller)
	if s == nil {
		return nil, errors.New("no data store configured")
	}
	return s, nil
}
