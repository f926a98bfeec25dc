package search

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// RateLimitedEngine throttles an engine with a token bucket so bursts of chat requests
// stay inside the provider's quota.
type RateLimitedEngine struct {
	next    port.SearchEngine
	limiter *rate.Limiter
}

var _ port.SearchEngine = (*RateLimitedEngine)(nil)

// WithRateLimit wraps next with a limiter of perSecond requests and the given burst.
// A non-positive rate returns next unchanged.
func WithRateLimit(next port.SearchEngine, perSecond float64, burst int) port.SearchEngine {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEngine{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Name returns the wrapped engine's name.
func (r *RateLimitedEngine) Name() string { return r.next.Name() }

// Search waits for a token, then delegates.
func (r *RateLimitedEngine) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", r.next.Name(), err)
	}
	return r.next.Search(ctx, query, limit)
}
