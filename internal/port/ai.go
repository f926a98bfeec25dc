package port

import (
	"context"
	"fmt"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
)

// Embedder maps text to a fixed-length vector. Documents at ingest time and queries at
// retrieval time must go through the same Embedder so their vectors are comparable.
type Embedder interface {
	// ModelName returns the identifier of the embedding model.
	ModelName() string

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is the body sent to an OpenAI-compatible chat completions endpoint.
type ChatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

// ChatStream yields the data payloads of an upstream server-sent event stream.
type ChatStream interface {
	// Next returns the next well-formed data payload, skipping malformed chunks.
	// It returns io.EOF once the upstream stream ends.
	Next() (string, error)

	// Close releases the upstream connection.
	Close() error
}

// ChatClient talks to one model endpoint at a time. Endpoint failover lives above it.
type ChatClient interface {
	// StreamChat issues a streaming request to the endpoint. A returned stream means the
	// endpoint accepted the request and bytes are flowing.
	StreamChat(ctx context.Context, endpoint string, req ChatRequest) (ChatStream, error)

	// Complete issues a non-streaming request and returns the assistant message.
	Complete(ctx context.Context, endpoint string, req ChatRequest) (string, error)

	// ListModels returns the model identifiers served by the endpoint.
	ListModels(ctx context.Context, endpoint string) ([]string, error)
}

// EndpointStatusError reports a non-success HTTP status from a model endpoint.
type EndpointStatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *EndpointStatusError) Error() string {
	return fmt.Sprintf("LLM endpoint %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}
