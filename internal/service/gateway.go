package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
	"github.com/arturoeanton/go-chat-search-rag/internal/retry"
)

const (
	noticeSearchFailed = "(Web search failed. Answering based on my existing knowledge.)\n\n"
	noEndpointMessage  = "No LLM endpoint reachable. Ensure an OpenAI-compatible server is running at your configured LLM_BASE_URLS."

	titlePrompt   = "Summarize the above conversation in 5 words or less."
	fallbackTitle = "New Chat"
)

var (
	thinkBlock    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	answerMarkers = regexp.MustCompile(`</?answer>`)
)

// GatewayConfig configures endpoint failover.
type GatewayConfig struct {
	Endpoints    []string      // tried in order
	MaxRetries   int           // extra attempts per endpoint after the first
	RetryBackoff time.Duration // delay after the first failed attempt, doubled each retry
	DefaultModel string
	SearchLimit  int
	Timeout      time.Duration // reported only; the client enforces it
}

// ChatInput is one chat turn to answer.
type ChatInput struct {
	History        []domain.Message
	Text           string
	Model          string
	WebSearch      bool // explicit request; the classifier is consulted otherwise
	SearchEngines  []string
	RAG            bool
	Owner          string
	ConversationID string
}

// Gateway builds the augmented prompt and streams the model's answer, failing over
// across endpoints until one starts streaming.
type Gateway struct {
	client     port.ChatClient
	cfg        GatewayConfig
	retry      retry.Config
	classifier *Classifier
	search     *SearchService
	rag        *RAGService
}

// NewGateway creates the inference gateway. search and rag may be nil, which disables the
// corresponding augmentation.
func NewGateway(client port.ChatClient, cfg GatewayConfig, classifier *Classifier, search *SearchService, rag *RAGService) *Gateway {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Gateway{
		client: client,
		cfg:    cfg,
		retry: retry.Config{
			Attempts:    cfg.MaxRetries + 1,
			BaseDelay:   cfg.RetryBackoff,
			Multiplier:  2,
			ShouldRetry: retryableEndpointError,
		},
		classifier: classifier,
		search:     search,
		rag:        rag,
	}
}

// retryableEndpointError retries transport failures on the same endpoint. Any HTTP
// status answer moves straight to the next endpoint.
func retryableEndpointError(err error) bool {
	var statusErr *port.EndpointStatusError
	return !errors.As(err, &statusErr)
}

// augmentation is the context gathered before the model is called.
type augmentation struct {
	searched bool
	results  []domain.SearchResult
	ragUsed  bool
	rag      RAGContext
}

// Respond answers one chat turn through emit. Progress frames for web search and retrieval
// come first, then the upstream token payloads. When every endpoint fails a single error
// frame is emitted and ErrNoEndpoint is returned. An emit failure means the client is gone:
// the upstream stream is closed and the emit error returned.
func (g *Gateway) Respond(ctx context.Context, in ChatInput, emit func(domain.StreamFrame) error) error {
	messages := BuildPrompt(in.History, in.Text)
	aug := g.gather(ctx, in)

	last := &messages[len(messages)-1]
	last.Content = aug.prefix() + last.Content

	if err := g.emitProgress(aug, emit); err != nil {
		return err
	}

	req := port.ChatRequest{Model: g.model(in.Model), Messages: messages, Stream: true}
	stream, endpoint, err := g.openStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := noEndpointMessage
		if !errors.Is(err, port.ErrNoEndpoint) {
			msg = err.Error()
		}
		if emitErr := emit(domain.StreamFrame{Kind: domain.FrameError, Data: msg}); emitErr != nil {
			return emitErr
		}
		return fmt.Errorf("%w: %v", port.ErrNoEndpoint, err)
	}
	defer stream.Close()

	tokens := 0
	for {
		payload, err := stream.Next()
		if errors.Is(err, io.EOF) {
			slog.Info("chat stream completed", "endpoint", endpoint, "frames", tokens)
			return nil
		}
		if err != nil {
			// Bytes already reached the client, so no failover from here.
			slog.Warn("chat stream interrupted", "endpoint", endpoint, "frames", tokens, "error", err)
			return fmt.Errorf("stream from %s: %w", endpoint, err)
		}
		if err := emit(domain.StreamFrame{Kind: domain.FrameToken, Data: payload}); err != nil {
			slog.Info("client disconnected, closing upstream", "endpoint", endpoint, "frames", tokens)
			return err
		}
		tokens++
	}
}

// gather runs web search and retrieval concurrently. Neither can fail the turn.
func (g *Gateway) gather(ctx context.Context, in ChatInput) augmentation {
	var aug augmentation
	query := strings.TrimSpace(in.Text)
	if query == "" {
		return aug
	}

	aug.searched = g.search != nil && (in.WebSearch || g.classifier.NeedsSearch(query))
	aug.ragUsed = g.rag != nil && in.RAG
	if in.WebSearch {
		slog.Info("web search explicitly enabled", "query", query)
	} else if aug.searched {
		slog.Info("web search auto-enabled by classifier", "query", query)
	}

	g2, gctx := errgroup.WithContext(ctx)
	if aug.searched {
		g2.Go(func() error {
			aug.results = g.search.Search(gctx, SearchRequest{Query: query, Limit: g.cfg.SearchLimit, Engines: in.SearchEngines})
			return nil
		})
	}
	if aug.ragUsed {
		g2.Go(func() error {
			aug.rag = g.rag.BuildContext(gctx, RAGRequest{Owner: in.Owner, ConversationID: in.ConversationID, Query: query})
			return nil
		})
	}
	_ = g2.Wait()
	return aug
}

// prefix is the text placed before the user's turn: retrieval context first, then the
// search block or the search failure notice.
func (a augmentation) prefix() string {
	var b strings.Builder
	if a.ragUsed {
		b.WriteString(a.rag.Block)
	}
	if a.searched {
		if len(a.results) > 0 {
			b.WriteString(FormatSearchResults(a.results))
		} else {
			b.WriteString(noticeSearchFailed)
		}
	}
	return b.String()
}

func (g *Gateway) emitProgress(aug augmentation, emit func(domain.StreamFrame) error) error {
	var frames []domain.StreamFrame
	if aug.searched {
		frames = append(frames, domain.StreamFrame{Kind: domain.FrameWebSearch, Data: domain.MarkerStarted})
		if len(aug.results) > 0 {
			frames = append(frames, domain.StreamFrame{Kind: domain.FrameWebSearch, Data: domain.MarkerResults})
			frames = append(frames, citationsFrame(webCitations(aug.results)))
		} else {
			frames = append(frames, domain.StreamFrame{Kind: domain.FrameWebSearch, Data: domain.MarkerNoResults})
		}
		frames = append(frames, domain.StreamFrame{Kind: domain.FrameWebSearch, Data: domain.MarkerFinished})
	}
	if aug.ragUsed {
		frames = append(frames, domain.StreamFrame{Kind: domain.FrameRAG, Data: domain.MarkerStarted})
		if aug.rag.Found() {
			frames = append(frames, domain.StreamFrame{Kind: domain.FrameRAG, Data: domain.MarkerResults})
			frames = append(frames, citationsFrame(aug.rag.Citations()))
		} else {
			frames = append(frames, domain.StreamFrame{Kind: domain.FrameRAG, Data: domain.MarkerNoResults})
		}
		frames = append(frames, domain.StreamFrame{Kind: domain.FrameRAG, Data: domain.MarkerFinished})
	}

	for _, f := range frames {
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

// openStream walks the endpoints in order. Each endpoint gets MaxRetries+1 attempts;
// the first one that starts streaming wins.
func (g *Gateway) openStream(ctx context.Context, req port.ChatRequest) (port.ChatStream, string, error) {
	var lastErr error
	for _, endpoint := range g.cfg.Endpoints {
		stream, err := withEndpointRetry(ctx, g.retry, endpoint, func(ctx context.Context) (port.ChatStream, error) {
			return g.client.StreamChat(ctx, endpoint, req)
		})
		if err == nil {
			return stream, endpoint, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		lastErr = err
		slog.Error("LLM endpoint exhausted, failing over", "endpoint", endpoint, "error", err)
	}
	if lastErr == nil {
		return nil, "", port.ErrNoEndpoint
	}
	return nil, "", lastErr
}

func withEndpointRetry[T any](ctx context.Context, cfg retry.Config, endpoint string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		slog.Warn("LLM request failed, retrying",
			"endpoint", endpoint,
			"attempt", fmt.Sprintf("%d/%d", attempt+1, cfg.Attempts),
			"retry_in", delay,
			"error", err,
		)
	}
	return retry.Do(ctx, cfg, fn)
}

// GenerateTitle asks the model for a short conversation title. Failures yield "New Chat".
func (g *Gateway) GenerateTitle(ctx context.Context, history []domain.Message, model string) string {
	messages := BuildPrompt(history, "")
	messages[len(messages)-1].Content = titlePrompt
	req := port.ChatRequest{Model: g.model(model), Messages: messages}

	for _, endpoint := range g.cfg.Endpoints {
		title, err := withEndpointRetry(ctx, g.retry, endpoint, func(ctx context.Context) (string, error) {
			return g.client.Complete(ctx, endpoint, req)
		})
		if err != nil {
			slog.Warn("title generation failed", "endpoint", endpoint, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		title = strings.Trim(strings.TrimSpace(CleanModelOutput(title)), `"`)
		if title != "" {
			return title
		}
	}
	return fallbackTitle
}

// Models lists the models of the first endpoint that answers, else the default model.
func (g *Gateway) Models(ctx context.Context) []string {
	for _, endpoint := range g.cfg.Endpoints {
		models, err := g.client.ListModels(ctx, endpoint)
		if err != nil {
			slog.Warn("failed to list models", "endpoint", endpoint, "error", err)
			continue
		}
		if len(models) > 0 {
			return models
		}
	}
	if g.cfg.DefaultModel == "" {
		return []string{}
	}
	return []string{g.cfg.DefaultModel}
}

// EndpointView is the failover configuration with credentials removed.
type EndpointView struct {
	Endpoints    []string `json:"endpoints"`
	MaxRetries   int      `json:"max_retries"`
	RetryBackoff float64  `json:"retry_backoff_seconds"`
	Timeout      float64  `json:"timeout_seconds"`
	DefaultModel string   `json:"default_model"`
}

// Config returns the sanitized endpoint configuration.
func (g *Gateway) Config() EndpointView {
	endpoints := make([]string, len(g.cfg.Endpoints))
	for i, e := range g.cfg.Endpoints {
		endpoints[i] = SanitizeEndpoint(e)
	}
	return EndpointView{
		Endpoints:    endpoints,
		MaxRetries:   g.cfg.MaxRetries,
		RetryBackoff: g.cfg.RetryBackoff.Seconds(),
		Timeout:      g.cfg.Timeout.Seconds(),
		DefaultModel: g.cfg.DefaultModel,
	}
}

func (g *Gateway) model(requested string) string {
	if requested != "" {
		return requested
	}
	return g.cfg.DefaultModel
}

// SanitizeEndpoint drops user info and query parameters from an endpoint URL.
func SanitizeEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// BuildPrompt replays the history in timestamp order and appends the new user turn.
// Model turns lose their think/answer markup; empty turns are dropped.
func BuildPrompt(history []domain.Message, text string) []domain.ChatMessage {
	ordered := make([]domain.Message, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	messages := make([]domain.ChatMessage, 0, len(ordered)+1)
	for _, m := range ordered {
		role, content := m.Sender, m.Content
		if m.FromModel() {
			role = "assistant"
			content = CleanModelOutput(content)
		}
		if content == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: role, Content: content})
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: text})
}

// CleanModelOutput strips <think> blocks and <answer> markers from a model reply.
func CleanModelOutput(content string) string {
	content = thinkBlock.ReplaceAllString(content, "")
	content = answerMarkers.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// FormatSearchResults renders the numbered web search context block.
func FormatSearchResults(results []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("\n\nWeb Search Results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. Title: %s\n", i+1, orNA(r.Title))
		fmt.Fprintf(&b, "   URL: %s\n", orNA(r.URL))
		fmt.Fprintf(&b, "   Snippet: %s\n", orNA(r.Snippet))
	}
	b.WriteString("\nBased on the above web search results, answer the following question:\n")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func webCitations(results []domain.SearchResult) []domain.Citation {
	items := make([]domain.Citation, len(results))
	for i, r := range results {
		items[i] = domain.Citation{Type: domain.CitationWeb, Title: r.Title, URL: r.URL, Snippet: r.Snippet, Source: r.Source}
	}
	return items
}

func citationsFrame(items []domain.Citation) domain.StreamFrame {
	data, err := json.Marshal(struct {
		Items []domain.Citation `json:"items"`
	}{Items: items})
	if err != nil {
		data = []byte(`{"items":[]}`)
	}
	return domain.StreamFrame{Kind: domain.FrameCitations, Data: string(data)}
}
