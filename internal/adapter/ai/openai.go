package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// OpenAIConfig configures the OpenAI-compatible chat client.
type OpenAIConfig struct {
	APIKey  string        // Bearer token (empty = no auth)
	Timeout time.Duration // per request; for streams, the longest silence tolerated between chunks
	Proxy   ProxyConfig
}

// OpenAIClient implements port.ChatClient against /v1/chat/completions style endpoints
// (LM Studio, vLLM, llama.cpp server, OpenAI).
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

var _ port.ChatClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Proxy, cfg.Timeout),
	}
}

// StreamChat issues a streaming chat completion. The returned stream must be closed.
func (o *OpenAIClient) StreamChat(ctx context.Context, endpoint string, req port.ChatRequest) (port.ChatStream, error) {
	req.Stream = true

	streamCtx, cancel := context.WithCancel(ctx)
	watchdog := time.AfterFunc(o.cfg.Timeout, cancel)

	resp, err := o.do(streamCtx, http.MethodPost, endpoint, "/v1/chat/completions", req)
	if err != nil {
		watchdog.Stop()
		cancel()
		return nil, err
	}

	return &sseStream{
		body:     resp.Body,
		reader:   bufio.NewReader(resp.Body),
		cancel:   cancel,
		watchdog: watchdog,
		idle:     o.cfg.Timeout,
	}, nil
}

// Complete issues a non-streaming chat completion and returns the first choice's content.
func (o *OpenAIClient) Complete(ctx context.Context, endpoint string, req port.ChatRequest) (string, error) {
	req.Stream = false

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.do(ctx, http.MethodPost, endpoint, "/v1/chat/completions", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion from %s: no choices", endpoint)
	}
	return out.Choices[0].Message.Content, nil
}

// ListModels returns the ids reported by /v1/models.
func (o *OpenAIClient) ListModels(ctx context.Context, endpoint string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.do(ctx, http.MethodGet, endpoint, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	models := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// do sends a request and returns the response when the status is 2xx.
func (o *OpenAIClient) do(ctx context.Context, method, endpoint, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(payloadBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(endpoint, path), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &port.EndpointStatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// sseStream reads "data:" payloads of a server-sent event stream.
type sseStream struct {
	body     io.ReadCloser
	reader   *bufio.Reader
	cancel   context.CancelFunc
	watchdog *time.Timer
	idle     time.Duration
	done     bool
}

// Next returns the next valid data payload. "[DONE]" is returned once, then io.EOF.
func (s *sseStream) Next() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}

		s.watchdog.Reset(s.idle)
		line, err := s.reader.ReadString('\n')

		if payload, ok := parseDataLine(line); ok {
			if payload == "[DONE]" {
				s.done = true
			}
			return payload, nil
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return "", io.EOF
			}
			return "", fmt.Errorf("read stream: %w", err)
		}
	}
}

// Close stops the stream and releases the upstream connection.
func (s *sseStream) Close() error {
	s.done = true
	s.watchdog.Stop()
	s.cancel()
	return s.body.Close()
}

// parseDataLine extracts the payload of an SSE data line. Comments, other fields and
// payloads that are not JSON (or the [DONE] sentinel) are rejected.
func parseDataLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		return payload, true
	}
	if payload == "" || !json.Valid([]byte(payload)) {
		return "", false
	}
	return payload, true
}

// DeltaContent returns choices[0].delta.content of a chat.completion.chunk payload.
func DeltaContent(payload string) string {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil || len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}
