package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// BraveEngine queries the Brave Search web API.
type BraveEngine struct {
	BaseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ port.SearchEngine = (*BraveEngine)(nil)

// NewBraveEngine creates the engine with the subscription token.
func NewBraveEngine(apiKey string, client *http.Client) *BraveEngine {
	return &BraveEngine{
		BaseURL:    "https://api.search.brave.com/res/v1/web/search",
		apiKey:     apiKey,
		httpClient: client,
	}
}

// Name returns "brave".
func (b *BraveEngine) Name() string { return "brave" }

// Search calls the web search endpoint.
func (b *BraveEngine) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(limit)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave API error (%d): %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, domain.SearchResult{
			Title:   stripTags(r.Title),
			URL:     r.URL,
			Snippet: stripTags(r.Description),
			Source:  "brave",
		})
	}
	return results, nil
}
