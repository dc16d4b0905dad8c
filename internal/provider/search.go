package provider

import (
	"context"
	"strings"

	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/pkg/jina"
)

const maxSnippet = 300

// Search runs bonus-research queries through Jina.
type Search struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewSearch creates the Jina search adapter.
func NewSearch(client jina.Client, breakers *resilience.Registry) *Search {
	return &Search{client: client, breaker: breakers.Get(pipeline.ProviderSearch)}
}

func (s *Search) SearchWeb(ctx context.Context, query string) ([]pipeline.SearchResult, error) {
	resp, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (*jina.SearchResponse, error) {
		return s.client.Search(ctx, query, jina.WithCountry("es"), jina.WithoutContent())
	})
	if err != nil {
		return nil, err
	}

	out := make([]pipeline.SearchResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		out = append(out, pipeline.SearchResult{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.URL,
			Snippet: truncate(strings.TrimSpace(snippet), maxSnippet),
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
