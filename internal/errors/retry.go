package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures exponential-backoff retries.
type RetryConfig struct {
	// MaxRetries is the retry count beyond the initial attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter randomizes each delay into [0.5d, 1.0d] so concurrent
	// retriers don't synchronize.
	Jitter bool
}

// DefaultRetryConfig returns a general-purpose retry configuration.
// The Ollama embedder builds its own configuration instead.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry runs fn with exponential backoff until it succeeds, the retry
// budget is spent, or ctx is cancelled. Cancellation wins over the
// remaining budget; otherwise the last fn error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
