package coach

import (
	"context"
	"log/slog"
	"time"
)

// RetryConfig holds retry configuration for delegate calls.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per call.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry defaults for delegate calls. A
// conversational turn is interactive, so the budget is small.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}
}

// retry calls fn until it succeeds, returns a non-transient error, the
// attempts are exhausted or ctx is done.
func retry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(cfg.MaxAttempts, 1)
	backoff := cfg.BackoffBase

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == attempts {
			break
		}

		logger.Debug("Transient delegate error, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return zero, lastErr
}
