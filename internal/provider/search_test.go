package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/pkg/jina"
)

func TestSearch_SearchWeb(t *testing.T) {
	client := &mockJina{}
	client.On("Search", mock.Anything, "precio vivienda Marbella").Return(&jina.SearchResponse{Data: []jina.SearchResult{
		{Title: " Precios Marbella ", URL: "https://example.es/a", Description: "Subida del 6%"},
		{Title: "No URL"},
		{Title: "Content only", URL: "https://example.es/b", Content: strings.Repeat("á", 400)},
	}}, nil)

	s := NewSearch(client, testRegistry())
	got, err := s.SearchWeb(context.Background(), "precio vivienda Marbella")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Precios Marbella", got[0].Title)
	assert.Equal(t, "Subida del 6%", got[0].Snippet)
	assert.Equal(t, maxSnippet+1, len([]rune(got[1].Snippet)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abc", 2))
}
