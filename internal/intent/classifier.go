// Package intent maps a sanitized query to the agents that should answer it.
package intent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/llm"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/ratelimit"
)

// Classification sources.
const (
	SourceRules   = "rules"
	SourceLLM     = "llm"
	SourceDefault = "default"
)

const (
	DefaultThreshold  = 0.9
	defaultConfidence = 0.5
	contextMessages   = 3
	contextChars      = 200
)

// Result is the outcome of classifying one query. AgentsNeeded is never empty
// and holds no duplicates.
type Result struct {
	PrimaryIntent      Intent             `json:"primaryIntent"`
	AgentsNeeded       []models.AgentType `json:"agentsNeeded"`
	Confidence         float64            `json:"confidence"`
	Entities           models.Entities    `json:"entities"`
	RequiresSynthesis  bool               `json:"requiresSynthesis"`
	SuggestedFollowups []string           `json:"suggestedFollowups,omitempty"`
	Source             string             `json:"source"`
	LLMUnavailable     bool               `json:"-"`
}

// Chatter is the rate-limited LLM call used for the fallback pass.
type Chatter interface {
	Chat(ctx context.Context, caller models.Caller, purpose string, req llm.ChatRequest) (string, error)
}

type rule struct {
	intent     Intent
	confidence float64
	keywords   []*regexp.Regexp
}

func keywords(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w))
	}
	return out
}

// rules are tried in order; the first rule with a matching keyword wins.
var rules = []rule{
	{MarketAnalysis, 0.95, keywords("market size", "market share", "cagr", "growth rate", "whitespace", "competition level", "low competition")},
	{PatentAnalysis, 0.95, keywords("patent", "expiry", "expire", "fto", "freedom to operate", "generic entry", "ip landscape")},
	{ClinicalResearch, 0.95, keywords("clinical trial", "phase ", "pipeline", "repurpos", "trial data", "nct")},
	{PatientInsights, 0.95, keywords("patient complain", "patient voice", "sentiment", "patient feedback", "what are patients", "patient need")},
	{CompetitiveIntelligence, 0.95, keywords("competitor", "war game", "simulate", "competitive", "what will", "counter strategy")},
	{SupplyChain, 0.95, keywords("import", "export", "trade", "supply", "source", "api sourcing", "pricing")},
	{CurrentEvents, 0.90, keywords("latest", "recent", "news", "fda approv", "announced", "today", "this week", "this month", "2025", "2026")},
	{InternalKnowledge, 0.90, keywords("internal", "our strategy", "our document", "company", "field report", "our analysis")},
	{ComprehensiveAnalysis, 0.90, keywords("should we", "evaluate", "full analysis", "comprehensive", "enter the", "opportunity assessment")},
}

type Classifier struct {
	llm       Chatter
	extractor *Extractor
	threshold float64
	logger    logger.Logger
}

// NewClassifier builds a classifier. chat may be nil, in which case the LLM pass
// is treated as unavailable. A threshold of zero uses DefaultThreshold.
func NewClassifier(chat Chatter, extractor *Extractor, threshold float64, log logger.Logger) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if extractor == nil {
		extractor = NewExtractor(DefaultVocabulary())
	}
	return &Classifier{
		llm:       chat,
		extractor: extractor,
		threshold: threshold,
		logger:    log.With(map[string]interface{}{"component": "intent"}),
	}
}

// Extractor exposes the entity extractor so agents can re-scan raw queries.
func (c *Classifier) Extractor() *Extractor {
	return c.extractor
}

// Classify runs the rule pass and, when it is missing or weak, the LLM pass.
// It never fails: any LLM problem degrades to the rule result or the default.
func (c *Classifier) Classify(ctx context.Context, caller models.Caller, query string, history []models.Message) *Result {
	entities := c.extractor.Extract(query)

	ruled := c.classifyRules(query, entities)
	if ruled != nil && ruled.Confidence >= c.threshold {
		return c.observe(ruled)
	}

	if c.llm == nil {
		res := c.fallback(ruled, entities)
		res.LLMUnavailable = true
		return c.observe(res)
	}

	raw, err := c.llm.Chat(ctx, caller, "classification", llm.ChatRequest{
		SystemPrompt: systemPrompt(),
		Messages:     []models.Message{{Role: "user", Content: userMessage(query, history)}},
		Temperature:  0.1,
		MaxTokens:    500,
	})
	if err != nil {
		c.logger.Warn("llm classification failed", map[string]interface{}{
			"error":       err.Error(),
			"rateLimited": errors.Is(err, ratelimit.ErrQuotaExceeded),
		})
		if errors.Is(err, ratelimit.ErrQuotaExceeded) {
			return c.observe(defaultResult(entities))
		}
		res := c.fallback(ruled, entities)
		res.LLMUnavailable = llm.IsUnavailable(err)
		return c.observe(res)
	}

	parsed, perr := ParseLLMResponse(raw)
	if perr != nil {
		c.logger.Warn("unparseable llm classification, using default", map[string]interface{}{
			"error": perr.Error(),
		})
		return c.observe(defaultResult(entities))
	}
	parsed.Entities = entities.Merge(parsed.Entities)
	return c.observe(parsed)
}

func (c *Classifier) classifyRules(query string, entities models.Entities) *Result {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if !kw.MatchString(query) {
				continue
			}
			agents := AgentsFor(r.intent)
			return &Result{
				PrimaryIntent:      r.intent,
				AgentsNeeded:       agents,
				Confidence:         r.confidence,
				Entities:           entities,
				RequiresSynthesis:  r.intent.IsCrossCutting() && len(agents) > 1,
				SuggestedFollowups: followupsFor(r.intent),
				Source:             SourceRules,
			}
		}
	}
	return nil
}

func (c *Classifier) fallback(ruled *Result, entities models.Entities) *Result {
	if ruled != nil {
		return ruled
	}
	return defaultResult(entities)
}

func (c *Classifier) observe(r *Result) *Result {
	metrics.IntentClassifications.WithLabelValues(r.Source, string(r.PrimaryIntent)).Inc()
	c.logger.Debug("query classified", map[string]interface{}{
		"intent":     r.PrimaryIntent,
		"agents":     r.AgentsNeeded,
		"confidence": r.Confidence,
		"source":     r.Source,
	})
	return r
}

// DefaultResult is the general-knowledge classification used when nothing else applies.
func DefaultResult() *Result {
	return defaultResult(nil)
}

func defaultResult(entities models.Entities) *Result {
	if entities == nil {
		entities = models.Entities{}
	}
	return &Result{
		PrimaryIntent:      GeneralPharma,
		AgentsNeeded:       []models.AgentType{models.AgentGeneral},
		Confidence:         defaultConfidence,
		Entities:           entities,
		SuggestedFollowups: followupsFor(GeneralPharma),
		Source:             SourceDefault,
	}
}

func systemPrompt() string {
	var sb strings.Builder
	for _, d := range taxonomy {
		fmt.Fprintf(&sb, "- %s: %s\n", d.intent, d.description)
	}
	return `You are an intent classifier for a pharmaceutical business intelligence system.

Available intents:
` + sb.String() + `
Your task:
1. Classify the user's query into one or more intents
2. Extract key entities (molecule names, therapy areas, companies, regions)
3. Determine if synthesis across multiple agents is needed

Respond in JSON format:
{
    "primary_intent": "intent_name",
    "secondary_intents": ["intent2", "intent3"],
    "confidence": 0.0-1.0,
    "entities": {
        "molecules": ["name1"],
        "therapy_areas": ["area1"],
        "companies": ["company1"],
        "regions": ["region1"]
    },
    "requires_synthesis": true/false,
    "reasoning": "brief explanation"
}`
}

func userMessage(query string, history []models.Message) string {
	var sb strings.Builder
	if len(history) > 0 {
		recent := history
		if len(recent) > contextMessages {
			recent = recent[len(recent)-contextMessages:]
		}
		sb.WriteString("\nRecent conversation:\n")
		for i, m := range recent {
			if i > 0 {
				sb.WriteString("\n")
			}
			content := []rune(m.Content)
			if len(content) > contextChars {
				content = content[:contextChars]
			}
			fmt.Fprintf(&sb, "%s: %s", m.Role, string(content))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Query to classify: ")
	sb.WriteString(query)
	return sb.String()
}
