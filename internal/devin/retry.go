package devin

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy retries a remote call on transient failures with exponential
// backoff. The wait before retry attempt i+1 is BackoffFactor^i seconds,
// no jitter, deterministic given the attempt index.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffFactor float64

	// Sleep is replaceable in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultRetryPolicy returns the policy used for all remote session
// operations: 3 attempts, factor 2.0 (waits of 1s then 2s).
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		BackoffFactor: 2.0,
	}
}

// Do executes fn up to MaxAttempts times. A fatal failure, or the last
// failure once attempts are exhausted, is propagated unchanged. The op
// name is only used for logging.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) || attempt == p.MaxAttempts-1 {
			return err
		}

		wait := time.Duration(math.Pow(p.BackoffFactor, float64(attempt)) * float64(time.Second))
		slog.Warn("transient server error, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"wait", wait,
			"error", err)
		sleep(wait)
	}
	return lastErr
}
