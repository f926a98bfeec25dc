// Package retry runs an operation with exponential backoff between attempts.
package retry

import (
	"context"
	"time"
)

// Config configures exponential backoff retry behavior.
type Config struct {
	Attempts   int           // Total attempts, including the first
	BaseDelay  time.Duration // Delay after the first failed attempt
	MaxDelay   time.Duration // Upper bound on a single delay (0 = unbounded)
	Multiplier float64       // Growth factor applied after every delay

	// ShouldRetry decides whether a failure is worth another attempt. Nil retries everything.
	ShouldRetry func(error) bool

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Delay returns the wait after the given zero-based failed attempt: BaseDelay × Multiplier^attempt.
func (c Config) Delay(attempt int) time.Duration {
	d := float64(c.BaseDelay)
	mult := c.Multiplier
	if mult <= 0 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Do executes fn until it succeeds, the attempts run out, ShouldRetry rejects the error,
// or ctx is cancelled. The last error is returned.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return zero, err
		}

		if attempt < attempts-1 {
			delay := cfg.Delay(attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, err, delay)
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return zero, lastErr
}
