package orchestrator

import (
	"time"

	"pharma-orchestrator/internal/common/config"
	"pharma-orchestrator/internal/guardrails"
	"pharma-orchestrator/internal/intent"
	"pharma-orchestrator/internal/models"
)

const (
	AgentsUsedGuardrails = "Guardrails"
	AgentsUsedSystem     = "System"
)

const (
	MessageNoInformation      = "I couldn't find relevant information for your query. Please try rephrasing or ask about a specific topic."
	MessageServiceUnavailable = "**Service unavailable:** the AI service is currently unreachable. Please try again shortly."
	MessageQuotaExceeded      = "**Daily AI quota reached:** your usage limit for today has been used up. Please come back tomorrow, when the quota resets at 00:00 UTC."
	MessageCancelled          = "The request was cancelled before it completed."
	MessageUnexpected         = "I'm sorry, something went wrong while processing your query. Please try again."

	noteSynthesisFailed   = "*Note: the combined summary could not be generated, so the %s analysis is shown on its own.*"
	noteSynthesisQuota    = "*Note: the daily AI quota has been reached, so the %s analysis is shown without a combined summary. Please come back later for the full synthesis.*"
	noteSynthesisDegraded = "**Service unavailable:** AI synthesis is unreachable. The individual findings follow."
)

// Request is one question from a caller. Context holds prior conversation turns,
// oldest first.
type Request struct {
	Query   string           `json:"query"`
	Context []models.Message `json:"context,omitempty"`
	UserID  string           `json:"userId,omitempty"`
	Role    models.UserRole  `json:"role,omitempty"`
}

func (r Request) Caller() models.Caller {
	if r.UserID == "" {
		return models.Anonymous()
	}
	return models.Caller{UserID: r.UserID, Role: models.ParseUserRole(string(r.Role))}
}

// Response is built once per query and never modified after ProcessQuery returns.
type Response struct {
	Content             string                      `json:"content"`
	AgentsUsed          []string                    `json:"agentsUsed"`
	Intent              *intent.Result              `json:"intent,omitempty"`
	Validation          guardrails.ValidationResult `json:"validation"`
	IndividualResponses []models.AgentResponse      `json:"individualResponses"`
	TotalTimeMs         int64                       `json:"totalTimeMs"`
	WasSynthesized      bool                        `json:"wasSynthesized"`
	OutputFlags         []string                    `json:"outputFlags"`
	Cancelled           bool                        `json:"cancelled,omitempty"`
}

type Config struct {
	MaxParallelAgents    int
	AgentTimeout         time.Duration
	SynthesisTemperature float64
	SynthesisMaxTokens   int
}

func DefaultConfig() Config {
	return Config{
		MaxParallelAgents:    4,
		AgentTimeout:         30 * time.Second,
		SynthesisTemperature: 0.3,
		SynthesisMaxTokens:   2048,
	}
}

// ConfigFrom fills unset values with the defaults.
func ConfigFrom(c config.OrchestratorConfig) Config {
	cfg := DefaultConfig()
	if c.MaxParallelAgents > 0 {
		cfg.MaxParallelAgents = c.MaxParallelAgents
	}
	if c.AgentTimeout > 0 {
		cfg.AgentTimeout = time.Duration(c.AgentTimeout) * time.Millisecond
	}
	if c.SynthesisTemperature > 0 {
		cfg.SynthesisTemperature = c.SynthesisTemperature
	}
	if c.SynthesisMaxTokens > 0 {
		cfg.SynthesisMaxTokens = c.SynthesisMaxTokens
	}
	return cfg
}
