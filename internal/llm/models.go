package llm

import "pharma-orchestrator/internal/models"

// ChatRequest is one completion call. SystemPrompt, when set, is sent as the
// first message.
type ChatRequest struct {
	SystemPrompt string
	Messages     []models.Message
	Temperature  float64
	MaxTokens    int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}
