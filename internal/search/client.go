// Package search queries a Tavily-compatible web search API.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	httpclient "pharma-orchestrator/internal/common/http"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/ratelimit"
)

// API is the rate-limiter key for search calls.
const API = "tavily"

const maxSnippet = 400

var (
	ErrWebSearchTimeout = errors.New("WEB_SEARCH_TIMEOUT")
	ErrWebSearchFailed  = errors.New("WEB_SEARCH_FAILED")
	ErrNotConfigured    = errors.New("WEB_SEARCH_NOT_CONFIGURED")
)

var spaceRe = regexp.MustCompile(`\s+`)

type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
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
		logger: log.With(map[string]interface{}{"component": "search"}),
	}
}

// Search returns up to maxResults hits, deduplicated by URL and sorted by score.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if c.config.APIKey == "" {
		return nil, ErrNotConfigured
	}
	query = spaceRe.ReplaceAllString(strings.TrimSpace(query), " ")
	if maxResults <= 0 {
		maxResults = 5
	}

	req := searchRequest{
		APIKey:      c.config.APIKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: c.config.SearchDepth,
	}

	var resp searchResponse
	url := strings.TrimRight(c.config.BaseURL, "/") + "/search"
	if err := c.http.DoJSON(ctx, http.MethodPost, url, nil, req, &resp); err != nil {
		if errors.Is(err, httpclient.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", ErrWebSearchTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrWebSearchFailed, err)
	}

	seen := make(map[string]bool)
	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		results = append(results, Result{
			Title:   cleanText(r.Title),
			URL:     r.URL,
			Snippet: truncate(cleanText(r.Content), maxSnippet),
			Score:   r.Score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	c.logger.Info("web search completed", map[string]interface{}{
		"query":       query,
		"resultCount": len(results),
	})
	return results, nil
}

// cleanText drops markup from a snippet. Plain text passes through unchanged.
func cleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script,style").Remove()
			s = doc.Text()
		}
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Gateway gates searches through the rate limiter.
type Gateway struct {
	client  Searcher
	limiter *ratelimit.Limiter
}

func NewGateway(client Searcher, limiter *ratelimit.Limiter) *Gateway {
	return &Gateway{client: client, limiter: limiter}
}

func (g *Gateway) Search(ctx context.Context, caller models.Caller, query string, maxResults int) ([]Result, error) {
	var out []Result
	err := g.limiter.Guard(ctx, API, caller, func(ctx context.Context) error {
		var err error
		out, err = g.client.Search(ctx, query, maxResults)
		return err
	})
	return out, err
}

// Bind fixes the caller so the gateway satisfies Searcher.
func (g *Gateway) Bind(caller models.Caller) Searcher {
	return boundGateway{g: g, caller: caller}
}

type boundGateway struct {
	g      *Gateway
	caller models.Caller
}

func (b boundGateway) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return b.g.Search(ctx, b.caller, query, maxResults)
}
