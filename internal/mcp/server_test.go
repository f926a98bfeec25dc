package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/store/memory"
	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

type staticEngine struct{ results []domain.SearchResult }

func (e staticEngine) Name() string { return "duckduckgo" }

func (e staticEngine) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	return e.results, nil
}

type unitEmbedder struct{}

func (unitEmbedder) ModelName() string { return "unit" }

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (unitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	registry := port.NewEngineRegistry("duckduckgo", staticEngine{results: []domain.SearchResult{
		{Title: "pgvector", URL: "https://github.com/pgvector/pgvector", Snippet: "Open-source vector similarity search for Postgres", Source: "duckduckgo"},
		{Title: "Go", URL: "https://go.dev", Snippet: "Build simple, secure, scalable systems", Source: "duckduckgo"},
	}})
	search := service.NewSearchService(registry, []string{"duckduckgo"})
	rag := service.NewRAGService(unitEmbedder{}, store, 5, 0.7)
	return NewServer(search, rag, nil, "0"), store
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestWebSearchTool(t *testing.T) {
	s, _ := newTestServer(t)

	res, err := s.handleWebSearch(context.Background(), callTool("web_search", map[string]any{"query": "vector search", "domain": "github.com"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	text := resultText(t, res)
	assert.Contains(t, text, "https://github.com/pgvector/pgvector")
	assert.NotContains(t, text, "https://go.dev")
}

func TestWebSearchToolRequiresQuery(t *testing.T) {
	s, _ := newTestServer(t)

	res, err := s.handleWebSearch(context.Background(), callTool("web_search", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchDocumentsTool(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	doc := &domain.Document{Filename: "notes.md", Owner: "ana@example.com", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.InsertDocument(ctx, doc, []domain.DocumentChunk{
		{ChunkIndex: 0, Content: "pgvector stores embeddings", Embedding: []float32{1, 0}, CreatedAt: time.Now()},
		{ChunkIndex: 1, Content: "unrelated", Embedding: []float32{0, 1}, CreatedAt: time.Now()},
	}))

	res, err := s.handleSearchDocuments(ctx, callTool("search_documents", map[string]any{
		"owner": "ana@example.com",
		"query": "where are embeddings stored?",
		"k":     float64(3),
	}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "pgvector stores embeddings")
	assert.NotContains(t, text, "unrelated")

	res, err = s.handleSearchDocuments(ctx, callTool("search_documents", map[string]any{
		"owner": "bob@example.com",
		"query": "where are embeddings stored?",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No relevant document chunks")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 5, clampLimit(0, 5))
	assert.Equal(t, 3, clampLimit(3, 5))
	assert.Equal(t, maxToolLimit, clampLimit(500, 5))
}
