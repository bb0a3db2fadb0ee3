package adapter

import (
	"context"
	"fmt"
	"time"
)

// DefaultBackoff is the delay before the first retry.
const DefaultBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts, starting at backoff. fn reports whether its error is retriable;
// a non-retriable error stops immediately.
func Retry(ctx context.Context, retries int, backoff time.Duration, fn func(ctx context.Context) (retriable bool, err error)) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		// Backoff before retries, not before the first attempt.
		if i > 0 {
			delay := time.Duration(1<<uint(i-1)) * backoff
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-timer.C:
			}
		}

		retriable, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			return fmt.Errorf("non-retriable error: %w", err)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
