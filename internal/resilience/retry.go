package resilience

import (
	"context"
	"time"

	"github.com/renderdeck/renderdeck/internal/faults"
)

// RetryConfig tunes Retry. ShouldRetry decides per error whether another
// attempt is worthwhile; nil defaults to the external-service policy
// (network errors and 5xx retry, 4xx never).
type RetryConfig struct {
	MaxAttempts       int
	Delay             time.Duration
	BackoffMultiplier float64
	ShouldRetry       func(error) bool
}

// DefaultRetryConfig returns the standard retry policy for HTTP dependents
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		Delay:             500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		ShouldRetry:       faults.IsRetryable,
	}
}

// Retry calls fn until it succeeds, ShouldRetry rejects the error, or
// MaxAttempts is exhausted. Exponential backoff is applied between
// attempts; the last error is returned unchanged.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 1
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = faults.IsRetryable
	}

	var lastErr error
	delay := cfg.Delay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts || !shouldRetry(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
	}

	return lastErr
}
