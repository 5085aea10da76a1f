// Package llm talks to an OpenAI-compatible chat completions endpoint (Groq).
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	httpclient "pharma-orchestrator/internal/common/http"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/ratelimit"
)

// API is the rate-limiter key for LLM calls.
const API = "groq"

var (
	ErrLLMTimeout       = errors.New("LLM_TIMEOUT")
	ErrLLMRequestFailed = errors.New("LLM_REQUEST_FAILED")
	ErrEmptyResponse    = errors.New("LLM_EMPTY_RESPONSE")
	ErrNotConfigured    = errors.New("LLM_NOT_CONFIGURED")
)

// Chatter is satisfied by Client and by test fakes.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

type Client struct {
	config *Config
	http   *httpclient.Client
	logger logger.Logger
}

func NewClient(cfg *Config, log logger.Logger) *Client {
	return &Client{
		config: cfg,
		http:   httpclient.NewClient(cfg.Timeout, cfg.MaxRetries),
		logger: log.With(map[string]interface{}{"component": "llm", "model": cfg.Model}),
	}
}

// Chat returns the first choice's content.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if c.config.APIKey == "" {
		return "", ErrNotConfigured
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := chatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}

	var resp chatCompletionResponse
	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	if err := c.http.DoJSON(ctx, http.MethodPost, url, headers, body, &resp); err != nil {
		if errors.Is(err, httpclient.ErrTimeout) {
			return "", fmt.Errorf("%w: %v", ErrLLMTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrLLMRequestFailed, resp.Error.Message)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("chat completion received", map[string]interface{}{
		"messages": len(messages),
		"chars":    len(resp.Choices[0].Message.Content),
	})
	return resp.Choices[0].Message.Content, nil
}

// Gateway gates every LLM call through the rate limiter.
type Gateway struct {
	client  Chatter
	limiter *ratelimit.Limiter
}

func NewGateway(client Chatter, limiter *ratelimit.Limiter) *Gateway {
	return &Gateway{client: client, limiter: limiter}
}

// Chat returns ratelimit.ErrQuotaExceeded (wrapped in *ratelimit.QuotaError)
// without calling the model when the caller is over quota. purpose labels metrics.
func (g *Gateway) Chat(ctx context.Context, caller models.Caller, purpose string, req ChatRequest) (string, error) {
	var out string
	err := g.limiter.Guard(ctx, API, caller, func(ctx context.Context) error {
		var err error
		out, err = g.client.Chat(ctx, req)
		return err
	})
	metrics.LLMCalls.WithLabelValues(purpose, outcome(err)).Inc()
	return out, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ratelimit.ErrQuotaExceeded):
		return "rate_limited"
	case errors.Is(err, ErrLLMTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// IsUnavailable reports whether err means the model could not be reached at all,
// as opposed to a quota denial.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLLMTimeout) || errors.Is(err, ErrLLMRequestFailed) || errors.Is(err, ErrNotConfigured)
}
