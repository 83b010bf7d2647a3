package indexer

import (
	"context"
	"fmt"
	"time"

	"launchpadScope/internal/chain"
)

// withRetry runs fn until it succeeds, doubling the delay after each failure.
// An error still present after maxRetries retries is reported as
// chain.ErrNetworkUnavailable. Cancellation is returned as is and never retried.
func withRetry(ctx context.Context, op string, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%w: %s: %v", chain.ErrNetworkUnavailable, op, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
