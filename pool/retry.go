package pool

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
)

// RetryingAllocator wraps base so transient allocation failures are retried
// with exponential backoff before being surfaced to the caller. Attempts
// stop once maxElapsed has passed since the first attempt, or ctx is done,
// whichever comes first. The last allocation error is returned; when ctx
// ends the retries it is joined with ctx.Err().
//
// This is the same manual-stepping backoff idiom used for websocket
// reconnects elsewhere in this codebase (NewExponentialBackOff, NextBackOff
// checked against backoff.Stop), applied here to a single deferred
// allocation instead of a long-lived connection loop.
func RetryingAllocator[R any](base Allocator[R], maxElapsed time.Duration) Allocator[R] {
	return func(ctx context.Context) (R, error) {
		var zero R

		b := backoff.NewExponentialBackOff()
		start := time.Now()
		var lastErr error

		for {
			resource, err := base(ctx)
			if err == nil {
				return resource, nil
			}
			lastErr = err

			if maxElapsed > 0 && time.Since(start) >= maxElapsed {
				return zero, lastErr
			}

			sleep := b.NextBackOff()
			if sleep == backoff.Stop {
				return zero, lastErr
			}

			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}
	}
}
