package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pharma-orchestrator/internal/intent"
	"pharma-orchestrator/internal/llm"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/ratelimit"
)

const synthesisSystemPrompt = `You are a pharmaceutical strategy synthesizer. Your task is to combine
multiple specialist analyses into a coherent, actionable executive summary.

Guidelines:
1. Identify key insights from each source
2. Highlight connections and patterns across analyses
3. Resolve any conflicting information
4. Provide clear strategic recommendations
5. Note any gaps or areas needing further investigation

Format your response as:
## Executive Summary
[2-3 sentence overview]

## Key Findings
[Bullet points of most important insights]

## Strategic Recommendations
[Numbered actionable recommendations]

## Risk Factors
[Key risks to consider]

## Next Steps
[Suggested follow-up actions]`

func successful(responses []models.AgentResponse) []models.AgentResponse {
	var out []models.AgentResponse
	for _, r := range responses {
		if r.Success && strings.TrimSpace(r.Content) != "" {
			out = append(out, r)
		}
	}
	return out
}

// sections renders each response under a labeled heading, in request order.
func sections(responses []models.AgentResponse) string {
	parts := make([]string, 0, len(responses))
	for _, r := range responses {
		parts = append(parts, fmt.Sprintf("### %s Analysis:\n%s", r.AgentType.Label(), r.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func synthesisPrompt(query string, responses []models.AgentResponse) string {
	return fmt.Sprintf("Original Query: %s\n\nSpecialist Analyses:\n%s\n\nPlease synthesize these analyses into a unified strategic response.",
		query, sections(responses))
}

// combine turns the agent responses into one answer. It reports whether an
// LLM synthesis produced the content.
func (o *Orchestrator) combine(ctx context.Context, caller models.Caller, query string, res *intent.Result, responses []models.AgentResponse) (string, bool) {
	ok := successful(responses)

	switch {
	case len(ok) == 0:
		if quotaDenied(responses) {
			return MessageQuotaExceeded, false
		}
		if res.LLMUnavailable {
			return MessageServiceUnavailable, false
		}
		return MessageNoInformation, false
	case len(ok) == 1:
		return ok[0].Content, false
	case !res.RequiresSynthesis:
		return sections(ok), false
	}

	if o.llm == nil {
		return o.degraded(ok, llm.ErrNotConfigured, res), false
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.synthesize")
	defer span.End()

	content, err := o.llm.Chat(ctx, caller, "synthesis", llm.ChatRequest{
		SystemPrompt: synthesisSystemPrompt,
		Messages:     []models.Message{{Role: "user", Content: synthesisPrompt(query, ok)}},
		Temperature:  o.cfg.SynthesisTemperature,
		MaxTokens:    o.cfg.SynthesisMaxTokens,
	})
	if err == nil && strings.TrimSpace(content) != "" {
		return content, true
	}
	if err == nil {
		err = errors.New("empty synthesis")
	}
	span.RecordError(err)
	o.logger.Warn("synthesis failed, using degraded content", map[string]interface{}{
		"error":  err.Error(),
		"agents": len(ok),
	})
	return o.degraded(ok, err, res), false
}

func (o *Orchestrator) degraded(ok []models.AgentResponse, err error, res *intent.Result) string {
	label := ok[0].AgentType.Label()
	switch {
	case errors.Is(err, ratelimit.ErrQuotaExceeded):
		return ok[0].Content + "\n\n---\n" + fmt.Sprintf(noteSynthesisQuota, label)
	case res.LLMUnavailable && llm.IsUnavailable(err):
		return noteSynthesisDegraded + "\n\n" + sections(ok)
	default:
		return ok[0].Content + "\n\n---\n" + fmt.Sprintf(noteSynthesisFailed, label)
	}
}

func quotaDenied(responses []models.AgentResponse) bool {
	for _, r := range responses {
		if r.QuotaExceeded {
			return true
		}
	}
	return false
}
