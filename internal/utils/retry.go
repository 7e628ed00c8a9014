package utils

import (
	"context"
	"time"
)

// RetryPolicy bounds how often an operation is attempted and how long to wait
// between attempts. The delay after the n-th failed attempt is BaseDelay*2^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Retryable, when set, stops the loop early for errors it rejects.
	Retryable func(err error) bool
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay returns the wait that follows the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * p.BaseDelay
}

// Do runs fn until it succeeds or MaxAttempts is exhausted and returns the
// last error. Context cancellation during a wait ends the loop early.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
