package resilience

import (
	"context"
	"time"
)

// DefaultRetryBackoff is the fixed delay [RetryOnce] waits before its single
// retry attempt.
const DefaultRetryBackoff = 100 * time.Millisecond

// RetryOnce calls fn once, and if it fails, waits backoff and calls fn a
// second time. It returns the second attempt's result whether or not that
// also fails. If ctx is cancelled or reaches its deadline during the
// backoff wait, RetryOnce returns immediately with ctx.Err() and makes no
// second attempt.
//
// Use this to wrap a single embedding-service call; storage calls are not
// retried here — the storage engine is expected to have its own retry
// semantics.
func RetryOnce(ctx context.Context, backoff time.Duration, fn func() error) error {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	if err := fn(); err == nil {
		return nil
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	return fn()
}
