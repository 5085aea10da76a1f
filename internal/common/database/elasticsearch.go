package database

import (
	"context"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"pharma-orchestrator/internal/common/config"
)

// ElasticsearchClient wraps the client used for internal document search.
type ElasticsearchClient struct {
	Client *elasticsearch.Client
}

// NewElasticsearch ignores blank addresses left by unset environment variables.
func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	addresses := make([]string, 0, len(cfg.Addresses)+1)
	for _, a := range cfg.Addresses {
		if a != "" {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 && cfg.URL != "" {
		addresses = append(addresses, cfg.URL)
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch: no addresses configured")
	}

	esCfg := elasticsearch.Config{Addresses: addresses}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticsearchClient{Client: es}, nil
}

func (c *ElasticsearchClient) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}
