package search

import (
	"time"

	"pharma-orchestrator/internal/common/config"
)

type Config struct {
	BaseURL     string
	APIKey      string
	SearchDepth string
	Timeout     time.Duration
	MaxRetries  int
}

func LoadConfig(cfg config.WebSearchConfig) *Config {
	c := &Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		SearchDepth: cfg.SearchDepth,
		Timeout:     time.Duration(cfg.Timeout) * time.Millisecond,
		MaxRetries:  cfg.MaxRetries,
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.tavily.com"
	}
	if c.SearchDepth == "" {
		c.SearchDepth = "basic"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}
