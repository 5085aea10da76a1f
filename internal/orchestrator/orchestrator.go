// Package orchestrator runs the query pipeline: validate, classify, execute
// agents, combine, then filter the output.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pharma-orchestrator/internal/agents"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/guardrails"
	"pharma-orchestrator/internal/intent"
	"pharma-orchestrator/internal/llm"
	"pharma-orchestrator/internal/models"
)

const (
	outcomeAnswered  = "answered"
	outcomeEmpty     = "no_results"
	outcomeQuota     = "quota_exceeded"
	outcomeBlocked   = "blocked"
	outcomeAbuse     = "abuse"
	outcomeCancelled = "cancelled"
	outcomePanic     = "panic"

	flagAbuse = "abuse_pattern"

	diagnosticRunes = 200
)

type Classifier interface {
	Classify(ctx context.Context, caller models.Caller, query string, history []models.Message) *intent.Result
}

type AgentRunner interface {
	Execute(ctx context.Context, agent models.AgentType, req agents.Request) models.AgentResponse
}

type Chatter interface {
	Chat(ctx context.Context, caller models.Caller, purpose string, req llm.ChatRequest) (string, error)
}

// QueryRecorder receives one observation per finished query.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, duration time.Duration, outcome string)
}

type Orchestrator struct {
	guard      *guardrails.Guardrails
	classifier Classifier
	agents     AgentRunner
	llm        Chatter
	cfg        Config
	tracer     trace.Tracer
	recorder   QueryRecorder
	logger     logger.Logger
}

type Option func(*Orchestrator)

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithRecorder(r QueryRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func New(guard *guardrails.Guardrails, classifier Classifier, runner AgentRunner, chat Chatter, cfg Config, log logger.Logger, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxParallelAgents <= 0 {
		cfg.MaxParallelAgents = def.MaxParallelAgents
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = def.AgentTimeout
	}
	if cfg.SynthesisMaxTokens <= 0 {
		cfg.SynthesisMaxTokens = def.SynthesisMaxTokens
	}
	if guard == nil {
		guard = guardrails.New(guardrails.DefaultConfig())
	}
	o := &Orchestrator{
		guard:      guard,
		classifier: classifier,
		agents:     runner,
		llm:        chat,
		cfg:        cfg,
		tracer:     otel.Tracer("pharma-orchestrator/orchestrator"),
		logger:     log.With(map[string]interface{}{"component": "orchestrator"}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessQuery never returns an error: every failure is rendered into the
// response content.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req Request) (resp *Response) {
	start := time.Now()
	outcome := outcomeAnswered

	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessQuery")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("query pipeline panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			outcome = outcomePanic
			resp = &Response{
				Content:    fmt.Sprintf("%s (%s)", MessageUnexpected, truncate(fmt.Sprint(r), diagnosticRunes)),
				AgentsUsed: []string{AgentsUsedSystem},
			}
		}
		elapsed := time.Since(start)
		resp.TotalTimeMs = elapsed.Milliseconds()
		if resp.IndividualResponses == nil {
			resp.IndividualResponses = []models.AgentResponse{}
		}
		if resp.OutputFlags == nil {
			resp.OutputFlags = []string{}
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		metrics.QueriesProcessed.WithLabelValues(outcome).Inc()
		metrics.QueryDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
		if o.recorder != nil {
			o.recorder.RecordQuery(ctx, elapsed, outcome)
		}
	}()

	caller := req.Caller()

	validation := o.guard.Validate(req.Query)
	for _, f := range validation.Flags {
		metrics.GuardrailFlags.WithLabelValues(f).Inc()
	}
	if !validation.IsValid {
		outcome = outcomeBlocked
		o.logger.Info("query rejected by guardrails", map[string]interface{}{
			"risk":  validation.RiskLevel,
			"flags": validation.Flags,
		})
		return &Response{
			Content:    validation.Message,
			AgentsUsed: []string{AgentsUsedGuardrails},
			Validation: validation,
		}
	}

	if abusive, msg := o.guard.CheckAbuse(validation.SanitizedText, userTurns(req.Context)); abusive {
		outcome = outcomeAbuse
		metrics.GuardrailFlags.WithLabelValues(flagAbuse).Inc()
		validation.Flags = append(append([]string{}, validation.Flags...), flagAbuse)
		o.logger.Warn("abusive query pattern", map[string]interface{}{"user_id": caller.UserID})
		return &Response{
			Content:    msg,
			AgentsUsed: []string{AgentsUsedGuardrails},
			Validation: validation,
		}
	}

	query := validation.SanitizedText
	res := o.classifier.Classify(ctx, caller, query, req.Context)
	if res == nil || len(res.AgentsNeeded) == 0 {
		res = intent.DefaultResult()
	}
	span.SetAttributes(
		attribute.String("intent", string(res.PrimaryIntent)),
		attribute.String("intent.source", res.Source),
		attribute.Int("agents", len(res.AgentsNeeded)),
	)

	areq := agents.Request{Query: query, Entities: res.Entities, Caller: caller}
	var responses []models.AgentResponse
	if res.RequiresSynthesis || len(res.AgentsNeeded) > 1 {
		responses = o.runParallel(ctx, res.AgentsNeeded, areq)
	} else {
		responses = []models.AgentResponse{o.runAgent(ctx, res.AgentsNeeded[0], areq)}
	}

	if ctx.Err() != nil {
		outcome = outcomeCancelled
		return &Response{
			Content:             MessageCancelled,
			AgentsUsed:          agentsUsed(responses),
			Intent:              res,
			Validation:          validation,
			IndividualResponses: responses,
			Cancelled:           true,
		}
	}

	content, synthesized := o.combine(ctx, caller, query, res, responses)
	used := agentsUsed(responses)
	if len(used) == 0 {
		outcome = outcomeEmpty
		if quotaDenied(responses) {
			outcome = outcomeQuota
		}
		used = []string{models.AgentGeneral.Label()}
	}

	filtered, outputFlags := o.guard.FilterOutput(content)
	for _, f := range outputFlags {
		metrics.GuardrailFlags.WithLabelValues(f).Inc()
	}
	final := o.guard.AddContextWarnings(filtered, query)

	o.logger.Info("query processed", map[string]interface{}{
		"intent":      res.PrimaryIntent,
		"agents":      used,
		"synthesized": synthesized,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &Response{
		Content:             final,
		AgentsUsed:          used,
		Intent:              res,
		Validation:          validation,
		IndividualResponses: responses,
		WasSynthesized:      synthesized,
		OutputFlags:         outputFlags,
	}
}

// runParallel runs every agent with at most MaxParallelAgents in flight.
// Results keep the requested order.
func (o *Orchestrator) runParallel(ctx context.Context, list []models.AgentType, req agents.Request) []models.AgentResponse {
	results := make([]models.AgentResponse, len(list))
	sem := make(chan struct{}, o.cfg.MaxParallelAgents)
	var wg sync.WaitGroup

	for i, agent := range list {
		wg.Add(1)
		go func(i int, agent models.AgentType) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = models.AgentResponse{AgentType: agent, Error: ctx.Err().Error()}
				return
			}
			results[i] = o.runAgent(ctx, agent, req)
		}(i, agent)
	}
	wg.Wait()
	return results
}

// runAgent bounds one agent by the agent timeout. A timeout only abandons this
// agent; the agent's own goroutine finishes in the background.
func (o *Orchestrator) runAgent(ctx context.Context, agent models.AgentType, req agents.Request) models.AgentResponse {
	ctx, span := o.tracer.Start(ctx, "agent."+string(agent))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan models.AgentResponse, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.AgentResponse{AgentType: agent, Error: fmt.Sprintf("agent panicked: %v", r)}
			}
		}()
		done <- o.agents.Execute(actx, agent, req)
	}()

	var resp models.AgentResponse
	select {
	case resp = <-done:
	case <-actx.Done():
		msg := fmt.Sprintf("agent timed out after %s", o.cfg.AgentTimeout)
		if ctx.Err() != nil {
			msg = ctx.Err().Error()
		}
		resp = models.AgentResponse{AgentType: agent, Error: msg, ExecutionTimeMs: time.Since(start).Milliseconds()}
	}

	span.SetAttributes(attribute.Bool("success", resp.Success))
	if !resp.Success {
		o.logger.Warn("agent returned no result", map[string]interface{}{
			"agent": agent,
			"error": resp.Error,
		})
	}
	return resp
}

func agentsUsed(responses []models.AgentResponse) []string {
	used := []string{}
	for _, r := range responses {
		if r.Success {
			used = append(used, r.AgentType.Label())
		}
	}
	return used
}

func userTurns(history []models.Message) []string {
	var out []string
	for _, m := range history {
		if m.Role == "user" {
			out = append(out, m.Content)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
