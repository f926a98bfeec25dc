package port

import (
	"context"
	"sort"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
)

// SearchEngine is one external web search backend.
type SearchEngine interface {
	// Name returns the unique registry name of this engine (e.g. "duckduckgo", "brave").
	Name() string

	// Search returns up to limit results for the query.
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
}

// EngineRegistry resolves search engines by name.
type EngineRegistry struct {
	engines  map[string]SearchEngine
	fallback string
}

// NewEngineRegistry creates a registry with the given engines. fallback names the
// always-available engine tried when every selected engine came back empty.
func NewEngineRegistry(fallback string, engines ...SearchEngine) *EngineRegistry {
	m := make(map[string]SearchEngine, len(engines))
	for _, e := range engines {
		m[e.Name()] = e
	}
	return &EngineRegistry{engines: m, fallback: fallback}
}

// Get returns the named engine.
func (r *EngineRegistry) Get(name string) (SearchEngine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, ErrEngineUnavailable
	}
	return e, nil
}

// Fallback returns the always-available engine, if it is registered.
func (r *EngineRegistry) Fallback() (SearchEngine, bool) {
	e, ok := r.engines[r.fallback]
	return e, ok
}

// FallbackName returns the configured fallback engine name.
func (r *EngineRegistry) FallbackName() string {
	return r.fallback
}

// Available returns the names of all registered engines, sorted.
func (r *EngineRegistry) Available() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
