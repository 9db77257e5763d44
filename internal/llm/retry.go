package llm

import (
	"context"
	"time"
)

// WithRetry wraps a call with bounded exponential backoff, per spec.md §5
// ("LLM chat calls have bounded retries with exponential backoff, default
// 3 attempts, 0.5s base"). It returns the first successful result, or the
// last error if all attempts are exhausted. A context cancellation aborts
// immediately without retrying, per spec.md §7's cancellation policy.
func WithRetry[T any](ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}

		delay := base << uint(i)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}

	return zero, lastErr
}
