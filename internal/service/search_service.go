package service

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
	"github.com/arturoeanton/go-chat-search-rag/internal/retry"
)

// DefaultSearchLimit is used when a search request carries no positive limit.
const DefaultSearchLimit = 5

// SearchRequest describes one web search.
type SearchRequest struct {
	Query        string
	Limit        int
	Engines      []string // explicit selection; empty = configured defaults
	DomainFilter string
}

// SearchService fans a query out to the selected engines and merges their results.
type SearchService struct {
	registry      *port.EngineRegistry
	defaults      []string
	retry         retry.Config
	engineTimeout time.Duration
}

// NewSearchService creates the orchestrator. defaults is the engine list used when a
// request names none.
func NewSearchService(registry *port.EngineRegistry, defaults []string) *SearchService {
	return &SearchService{
		registry: registry,
		defaults: defaults,
		retry: retry.Config{
			Attempts:   2,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   4 * time.Second,
			Multiplier: 2,
		},
		engineTimeout: 10 * time.Second,
	}
}

// Engines lists the registered engine names.
func (s *SearchService) Engines() []string {
	return s.registry.Available()
}

// Defaults returns the engine list used when a request names none.
func (s *SearchService) Defaults() []string {
	return s.defaults
}

// Search never fails: engine errors degrade that engine's contribution to nothing.
// An empty result means no external context is available.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) []domain.SearchResult {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	engines := s.selectEngines(req.Engines)
	slog.Info("web search", "query", req.Query, "engines", engineNames(engines), "limit", limit)

	// Per-engine slots keep the merge order stable regardless of completion order.
	perEngine := make([][]domain.SearchResult, len(engines))
	var g errgroup.Group
	for i, engine := range engines {
		g.Go(func() error {
			perEngine[i] = s.searchEngine(ctx, engine, req.Query, limit+2)
			return nil
		})
	}
	_ = g.Wait()

	var raw []domain.SearchResult
	for _, results := range perEngine {
		raw = append(raw, results...)
	}

	if len(raw) == 0 && !containsEngine(engines, s.registry.FallbackName()) {
		if fallback, ok := s.registry.Fallback(); ok {
			slog.Info("no results from selected engines, trying fallback", "engine", fallback.Name())
			raw = s.searchEngine(ctx, fallback, req.Query, limit+2)
		}
	}

	return MergeResults(raw, req.DomainFilter, limit)
}

// selectEngines resolves explicit names, else the defaults, else the fallback engine.
// Unknown names are dropped with a warning.
func (s *SearchService) selectEngines(requested []string) []port.SearchEngine {
	names := requested
	if len(names) == 0 {
		names = s.defaults
	}
	if len(names) == 0 {
		names = []string{s.registry.FallbackName()}
	}

	seen := make(map[string]bool, len(names))
	var engines []port.SearchEngine
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		engine, err := s.registry.Get(name)
		if err != nil {
			slog.Warn("search engine not available, skipping", "engine", name)
			continue
		}
		engines = append(engines, engine)
	}
	return engines
}

// searchEngine runs one engine with its own retry ladder and timeout, returning only valid results.
func (s *SearchService) searchEngine(ctx context.Context, engine port.SearchEngine, query string, limit int) []domain.SearchResult {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		slog.Warn("search engine attempt failed", "engine", engine.Name(), "attempt", attempt+1, "retry_in", delay, "error", err)
	}

	results, err := retry.Do(ctx, cfg, func(ctx context.Context) ([]domain.SearchResult, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.engineTimeout)
		defer cancel()
		return engine.Search(attemptCtx, query, limit)
	})
	if err != nil {
		slog.Warn("search engine failed", "engine", engine.Name(), "error", err)
		return nil
	}

	valid := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	slog.Info("search engine returned results", "engine", engine.Name(), "valid", len(valid), "total", len(results))
	return valid
}

// MergeResults applies the domain filter, removes duplicate URLs (first occurrence wins),
// ranks by title length then snippet length (longest first) and truncates to limit.
// The length ranking is a crude relevance proxy kept for behavioral compatibility.
func MergeResults(raw []domain.SearchResult, domainFilter string, limit int) []domain.SearchResult {
	filter := strings.ToLower(strings.TrimSpace(domainFilter))

	seen := make(map[string]bool, len(raw))
	merged := make([]domain.SearchResult, 0, len(raw))
	for _, r := range raw {
		if filter != "" && !strings.Contains(strings.ToLower(r.URL), filter) {
			continue
		}
		key := NormalizeURL(r.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, r)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		ti, tj := utf8.RuneCountInString(merged[i].Title), utf8.RuneCountInString(merged[j].Title)
		if ti != tj {
			return ti > tj
		}
		return utf8.RuneCountInString(merged[i].Snippet) > utf8.RuneCountInString(merged[j].Snippet)
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// NormalizeURL is the deduplication key of a result URL: scheme, fragment, a leading
// "www." and trailing slashes are ignored and the host is lower-cased. Path and query
// string are kept as is.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(trimmed), "/")
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	key := host + strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

func containsEngine(engines []port.SearchEngine, name string) bool {
	for _, e := range engines {
		if e.Name() == name {
			return true
		}
	}
	return false
}

func engineNames(engines []port.SearchEngine) []string {
	names := make([]string, len(engines))
	for i, e := range engines {
		names[i] = e.Name()
	}
	return names
}
