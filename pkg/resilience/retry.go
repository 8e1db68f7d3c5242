package resilience

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop: at most MaxAttempts calls of the wrapped
// operation, sleeping per Backoff between attempts, retrying only when
// ShouldRetry returns true for the error. A nil ShouldRetry retries every error.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
	ShouldRetry func(error) bool
}

// Do executes op until it succeeds, a non-retriable error occurs, the attempt
// budget is exhausted, or ctx is canceled. The last error is returned; context
// cancellation during a backoff sleep returns ctx.Err().
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := time.Duration(0)
		if p.Backoff != nil {
			delay = p.Backoff.NextDelay(attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
