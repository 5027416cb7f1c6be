// Package retry implements the bounded-retry-with-classification loop shared
// by media fetching and outbound candidate probing.
package retry

import (
	"context"
	"time"
)

// Policy bounds how often an operation is retried and which errors qualify.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// Retryable reports whether an error is worth another attempt. A nil
	// predicate retries every error.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, the policy is exhausted, an error is
// classified as permanent, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p Policy) sleep(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
