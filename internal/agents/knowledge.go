package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/llm"
	"pharma-orchestrator/internal/models"
)

const (
	internalDocCandidates = 20
	internalDocResults    = 5
	contentPreviewRunes   = 300
)

const generalSystemPrompt = "You are a pharmaceutical intelligence expert. Provide accurate, helpful information about medications, drug development, and pharmaceutical industry topics. Be concise but comprehensive. Format with bullet points when appropriate."

func (e *Executor) internal(ctx context.Context, req Request) (string, error) {
	store, err := e.store(req)
	if err != nil {
		return "", err
	}
	docs, err := store.InternalDocs(ctx, datastore.Filter{Text: req.Query, Limit: internalDocCandidates})
	if err != nil {
		return "", err
	}
	return formatInternalDocs(req.Query, rankDocs(req.Query, docs)), nil
}

func queryWords(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(w)) > 3 {
			words = append(words, w)
		}
	}
	return words
}

// rankDocs keeps the documents mentioning the most query words. Ties keep the
// store's order.
func rankDocs(query string, docs []models.InternalDoc) []models.InternalDoc {
	words := queryWords(query)
	type scored struct {
		doc   models.InternalDoc
		score int
	}
	ranked := make([]scored, 0, len(docs))
	for _, d := range docs {
		text := strings.ToLower(d.Title + " " + d.Summary + " " + d.Content)
		score := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				score++
			}
		}
		ranked = append(ranked, scored{doc: d, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]models.InternalDoc, 0, internalDocResults)
	for i := 0; i < len(ranked) && i < internalDocResults; i++ {
		out = append(out, ranked[i].doc)
	}
	return out
}

func formatInternalDocs(query string, docs []models.InternalDoc) string {
	if len(docs) == 0 {
		return fmt.Sprintf("No internal documents found matching: '%s'", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Internal Knowledge Search Results for: '%s'**\n", query)
	for _, d := range docs {
		fmt.Fprintf(&b, "\n**[%s] %s**\n  Tags: %s\n  Summary: %s\n", d.DocID, d.Title, strings.Join(d.Tags, ", "), d.Summary)
		if d.Content != "" {
			fmt.Fprintf(&b, "  Content: %s...\n", truncateRunes(d.Content, contentPreviewRunes))
		}
	}
	return b.String()
}

func (e *Executor) web(ctx context.Context, req Request) (string, error) {
	if e.search == nil {
		return "", errors.New("web search is not configured")
	}
	results, err := e.search.Search(ctx, req.Caller, req.Query, e.config.WebResults)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No web results found for: '%s'", req.Query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Web Search Results for: '%s'**\n", req.Query)
	for _, r := range results {
		fmt.Fprintf(&b, "\n- **%s**\n  %s\n  [Source](%s)\n", r.Title, r.Snippet, r.URL)
	}
	return b.String(), nil
}

func (e *Executor) general(ctx context.Context, req Request) (string, error) {
	if e.llm == nil {
		return "", llm.ErrNotConfigured
	}
	return e.llm.Chat(ctx, req.Caller, "general", llm.ChatRequest{
		SystemPrompt: generalSystemPrompt,
		Messages:     []models.Message{{Role: "user", Content: req.Query}},
		Temperature:  e.config.GeneralTemperature,
		MaxTokens:    e.config.GeneralMaxTokens,
	})
}
