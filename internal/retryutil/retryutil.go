// Package retryutil implements the generic retry envelope shared by the
// tile scheduler and the ingest cron scheduler: per-attempt exponential
// backoff capped at a maximum delay, surfacing apperr.Transient only after
// every attempt is exhausted.
package retryutil

import (
	"context"
	"time"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Backoff describes an exponential backoff schedule.
type Backoff struct {
	Base    time.Duration
	Factor  float64
	MaxWait time.Duration
}

// Delay returns the backoff delay before the given retry attempt, where
// attempt is 1-indexed (the delay before the *second* overall try).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor <= 1.0 {
		factor = 2.0
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	delay := time.Duration(d)
	if b.MaxWait > 0 && delay > b.MaxWait {
		delay = b.MaxWait
	}
	return delay
}

// Do runs op up to attempts times (attempts >= 1), sleeping per Backoff
// between tries. It returns the last error wrapped as apperr.Transient
// once every attempt has been consumed. ctx cancellation aborts the sleep
// and returns ctx.Err() immediately.
func Do[T any](ctx context.Context, attempts int, backoff Backoff, op func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := backoff.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, attempts, apperr.Wrap(apperr.Transient, "operation failed after retries", lastErr)
}
