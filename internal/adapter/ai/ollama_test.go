package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

func TestOllamaEmbedderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "all-minilm", body["model"])
		fmt.Fprint(w, `{"embeddings":[[0.1,0.2,0.3]]}`)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(EmbedEndpointConfig{BaseURL: srv.URL, Model: "all-minilm"})
	v, err := emb.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestOllamaEmbedderEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[]}`)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(EmbedEndpointConfig{BaseURL: srv.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), "hello")

	assert.ErrorIs(t, err, port.ErrEmptyEmbedding)
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[2]},{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(EmbedEndpointConfig{BaseURL: srv.URL, Model: "m"})
	out, err := emb.EmbedBatch(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, out)
}
