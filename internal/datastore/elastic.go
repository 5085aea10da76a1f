package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"pharma-orchestrator/internal/models"
)

// ElasticDocs runs full-text search over the internal document index.
type ElasticDocs struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticDocs(client *elasticsearch.Client, index string) *ElasticDocs {
	if index == "" {
		index = "internal_docs"
	}
	return &ElasticDocs{client: client, index: index}
}

type searchHits struct {
	Hits struct {
		Hits []struct {
			ID     string             `json:"_id"`
			Source models.InternalDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *ElasticDocs) InternalDocs(ctx context.Context, f Filter) ([]models.InternalDoc, error) {
	query := map[string]interface{}{
		"size": f.limit(),
		"query": map[string]interface{}{
			"match_all": map[string]interface{}{},
		},
	}
	if text := strings.TrimSpace(f.Text); text != "" {
		query["query"] = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"title^3", "summary^2", "content", "tags"},
			},
		}
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	req := esapi.SearchRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.Status())
	}

	var r searchHits
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]models.InternalDoc, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		doc := h.Source
		if doc.DocID == "" {
			doc.DocID = h.ID
		}
		out = append(out, doc)
	}
	return out, nil
}
