package llm

import (
	"time"

	"pharma-orchestrator/internal/common/config"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

func LoadConfig(cfg config.LLMConfig) *Config {
	c := &Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    time.Duration(cfg.Timeout) * time.Millisecond,
		MaxRetries: cfg.MaxRetries,
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.Model == "" {
		c.Model = "llama-3.3-70b-versatile"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}
