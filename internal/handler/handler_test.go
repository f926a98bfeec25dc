package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/ai"
	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/extract"
	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/store/memory"
	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/middleware"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

var testJWT = middleware.JWTConfig{Secret: "handler-secret", Issuer: "contextual-chat", ExpiresIn: time.Hour}

type stubEngine struct {
	results []domain.SearchResult
}

func (s stubEngine) Name() string { return "duckduckgo" }

func (s stubEngine) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	return s.results, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) ModelName() string { return "fixed" }

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type testEnv struct {
	app   *fiber.App
	store *memory.Store
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			fmt.Fprint(w, `{"data":[{"id":"qwen3"},{"id":"llama3"}]}`)
		case "/v1/chat/completions":
			var req port.ChatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if !req.Stream {
				fmt.Fprint(w, `{"choices":[{"message":{"content":"<think>hmm</think>Go release notes"}}]}`)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	upstream := newUpstream(t)

	registry := port.NewEngineRegistry("duckduckgo", stubEngine{results: []domain.SearchResult{
		{Title: "Go 1.25 released", URL: "https://go.dev/blog/go1.25", Snippet: "The latest Go release.", Source: "duckduckgo"},
	}})
	search := service.NewSearchService(registry, []string{"duckduckgo"})
	rag := service.NewRAGService(fixedEmbedder{}, store, 5, 0.7)
	gateway := service.NewGateway(ai.NewOpenAIClient(ai.OpenAIConfig{Timeout: 5 * time.Second}), service.GatewayConfig{
		Endpoints:    []string{upstream.URL},
		RetryBackoff: time.Millisecond,
		DefaultModel: "qwen3",
	}, nil, search, rag)

	queue := service.NewEmbeddingQueue(fixedEmbedder{}, store, 1, 8)
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Stop()
	})

	conversations := service.NewConversationService(store, gateway)
	documents := service.NewDocumentService(store, extract.New(t.TempDir()), queue, time.Hour, 1<<20)

	app := fiber.New()
	api := app.Group("/api/v1", middleware.OptionalJWT(testJWT))
	NewChatHandler(gateway, conversations, testJWT).Register(api)
	NewConversationHandler(conversations).Register(api)
	NewDocumentHandler(documents).Register(api)
	NewRAGHandler(rag).Register(api)
	NewSearchHandler(search).Register(api)
	NewAuditHandler(store).Register(api)

	return &testEnv{app: app, store: store}
}

func bearer(t *testing.T, email string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(domain.UserContext{Email: email}, testJWT)
	require.NoError(t, err)
	return "Bearer " + token
}

func (e *testEnv) do(t *testing.T, method, path, auth string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, "ana@example.com")

	resp := env.do(t, http.MethodPost, "/api/v1/chat/new", ana, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	conv := decode[domain.Conversation](t, resp)
	assert.Equal(t, domain.DefaultConversationTitle, conv.Title)
	assert.Equal(t, "ana@example.com", conv.Owner)

	resp = env.do(t, http.MethodPost, "/api/v1/chat/messages", ana, map[string]string{
		"conversation_id": conv.ID,
		"sender":          "user",
		"content":         "What changed in the newest Go release?",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/chat/conversations", ana, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	convs := decode[[]domain.Conversation](t, resp)
	require.Len(t, convs, 1)
	assert.Equal(t, "What changed in the ...", convs[0].Title)

	resp = env.do(t, http.MethodGet, "/api/v1/chat/conversations/"+conv.ID+"/messages", ana, nil)
	msgs := decode[[]domain.Message](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Sender)

	resp = env.do(t, http.MethodPost, "/api/v1/chat/conversations/"+conv.ID+"/title", ana, map[string]string{"model": "qwen3"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	titled := decode[map[string]string](t, resp)
	assert.Equal(t, "Go release notes", titled["title"])

	resp = env.do(t, http.MethodPut, "/api/v1/chat/conversations/"+conv.ID, ana, map[string]string{"title": "Renamed"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Other callers cannot see the conversation.
	resp = env.do(t, http.MethodGet, "/api/v1/chat/conversations/"+conv.ID+"/messages", bearer(t, "bob@example.com"), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/chat/conversations/"+conv.ID, ana, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/v1/chat/conversations/"+conv.ID, ana, map[string]string{"title": "Gone"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestChatStreamFrames(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream", "", map[string]any{
		"text":               "what is new in go?",
		"web_search_enabled": true,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "data: <websearch>true</websearch>\n\n")
	assert.Contains(t, text, "data: <websearch>results</websearch>\n\n")
	assert.Contains(t, text, `"url":"https://go.dev/blog/go1.25"`)
	assert.Contains(t, text, "data: [DONE]\n\n")
	assert.Less(t, strings.Index(text, "<citations>"), strings.Index(text, `"delta"`), "citations precede tokens")
}

func TestChatStreamRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream", "", map[string]string{"text": "  "})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestModelsAndConfig(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/models", "", nil)
	models := decode[map[string][]string](t, resp)
	assert.Equal(t, []string{"qwen3", "llama3"}, models["models"])

	resp = env.do(t, http.MethodGet, "/api/v1/llm/config", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/search", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/search?q=go+release&domain=go.dev", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decode[struct {
		Results []domain.SearchResult `json:"results"`
	}](t, resp)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "https://go.dev/blog/go1.25", out.Results[0].URL)
}

func upload(t *testing.T, env *testEnv, auth, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload?conversation_id=c1", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := env.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return resp
}

func TestDocumentUploadAndEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, "ana@example.com")

	resp := upload(t, env, "", "notes.txt", "hello")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = upload(t, env, ana, "binary.exe", "MZ")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = upload(t, env, ana, "notes.txt", "First paragraph.\n\nSecond paragraph.")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	id, _ := created["document_id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		resp := env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/embedding", ana, nil)
		job := decode[domain.EmbeddingJob](t, resp)
		return job.Status == domain.JobComplete
	}, 2*time.Second, 10*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/embedding/stream", ana, nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "event: complete\n"))

	resp = env.do(t, http.MethodGet, "/api/v1/documents?conversation_id=c1", ana, nil)
	listed := decode[struct {
		Count int `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, listed.Count)

	resp = env.do(t, http.MethodDelete, "/api/v1/documents/"+id, bearer(t, "bob@example.com"), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/documents/"+id, ana, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestDocumentReference(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, "ana@example.com")

	resp := env.do(t, http.MethodPost, "/api/v1/documents", ana, map[string]string{
		"conversation_id": "c9", "document_id": "missing",
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = upload(t, env, ana, "notes.md", "# Title\n\nBody")
	created := decode[map[string]any](t, resp)
	id, _ := created["document_id"].(string)

	resp = env.do(t, http.MethodPost, "/api/v1/documents", ana, map[string]string{
		"conversation_id": "c9", "document_id": id, "filename": "renamed.md",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	doc, err := env.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "c9", doc.ConversationID)
	assert.Equal(t, "renamed.md", doc.Filename)
}

func TestAuditLogsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.WriteAudit("ana@example.com", domain.AuditActionChatStream, "api", "/api/v1/chat/stream", "{}", "127.0.0.1", "test"))

	resp := env.do(t, http.MethodGet, "/api/v1/audit/logs", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/audit/logs?action="+domain.AuditActionChatStream, bearer(t, "ana@example.com"), nil)
	out := decode[struct {
		Count int `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, out.Count)
}

func TestRAGQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := &domain.Document{Filename: "notes.txt", Owner: "ana@example.com", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, env.store.InsertDocument(ctx, doc, []domain.DocumentChunk{
		{ChunkIndex: 0, Content: "relevant", Embedding: []float32{1, 0, 0}},
		{ChunkIndex: 1, Content: "orthogonal", Embedding: []float32{0, 1, 0}},
	}))

	resp := env.do(t, http.MethodPost, "/api/v1/rag/query", "", map[string]string{"query": "anything"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/rag/query", bearer(t, "ana@example.com"), map[string]any{"query": "anything", "k": 3})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decode[struct {
		Sources []struct {
			Content    string  `json:"content"`
			Similarity float64 `json:"similarity"`
		} `json:"sources"`
	}](t, resp)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "relevant", out.Sources[0].Content)
}
