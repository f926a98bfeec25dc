package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/port"
	"github.com/arturoeanton/go-chat-search-rag/internal/retry"
)

// EmbedEndpointConfig holds the configuration for an embedding endpoint.
type EmbedEndpointConfig struct {
	BaseURL string // e.g. http://localhost:11434
	Model   string // e.g. all-minilm, bge-m3
	Token   string // Bearer token (empty = no auth)
}

// embedRetry retries transient embedding failures.
var embedRetry = retry.Config{
	Attempts:   3,
	BaseDelay:  250 * time.Millisecond,
	MaxDelay:   2 * time.Second,
	Multiplier: 2,
}

// OllamaEmbedder implements port.Embedder using the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	cfg        EmbedEndpointConfig
	httpClient *http.Client
}

var _ port.Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama-backed embedder.
func NewOllamaEmbedder(cfg EmbedEndpointConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ModelName returns the embedding model identifier.
func (o *OllamaEmbedder) ModelName() string {
	return o.cfg.Model
}

// Embed generates a vector embedding for the given text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: %w", port.ErrEmptyEmbedding)
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := o.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("ollama embed batch: got %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

func (o *OllamaEmbedder) embed(ctx context.Context, input interface{}) ([][]float32, error) {
	payload := map[string]interface{}{
		"model": o.cfg.Model,
		"input": input,
	}

	return retry.Do(ctx, embedRetry, func(ctx context.Context) ([][]float32, error) {
		body, err := postJSON(ctx, o.httpClient, o.cfg, "/api/embed", payload)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		return resp.Embeddings, nil
	})
}

// OpenAIEmbedder implements port.Embedder against an OpenAI-compatible /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	cfg        EmbedEndpointConfig
	httpClient *http.Client
}

var _ port.Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for OpenAI-compatible servers.
func NewOpenAIEmbedder(cfg EmbedEndpointConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ModelName returns the embedding model identifier.
func (o *OpenAIEmbedder) ModelName() string {
	return o.cfg.Model
}

// Embed generates a vector embedding for the given text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, fmt.Errorf("openai embed: %w", port.ErrEmptyEmbedding)
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload := map[string]interface{}{
		"model": o.cfg.Model,
		"input": texts,
	}

	vectors, err := retry.Do(ctx, embedRetry, func(ctx context.Context) ([][]float32, error) {
		body, err := postJSON(ctx, o.httpClient, o.cfg, "/v1/embeddings", payload)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Data []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index >= 0 && d.Index < len(out) {
				out[d.Index] = d.Embedding
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return vectors, nil
}

// postJSON is a helper for POST requests to an embedding endpoint (with optional bearer token).
func postJSON(ctx context.Context, client *http.Client, cfg EmbedEndpointConfig, path string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(cfg.BaseURL, path), bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error (%d): %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
