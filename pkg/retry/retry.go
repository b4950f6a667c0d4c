// Package retry runs an operation again after transient failures
package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds attempts and the exponential backoff between them
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy suits local resources such as a busy sqlite database
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether err is worth another attempt
type IsTransientFunc func(error) bool

// delay is the wait before attempt n+1: the doubled backoff capped at
// MaxBackoff plus up to half of it again as jitter
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}

// Do calls fn until it succeeds, returns a non-transient error or the
// attempts run out, and returns the last error. A nil isTransient never
// retries.
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	attempts := max(policy.MaxAttempts, 1)

	err := fn()
	for n := 0; err != nil && n < attempts-1; n++ {
		if isTransient == nil || !isTransient(err) {
			return err
		}

		timer := time.NewTimer(policy.delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = fn()
	}
	return err
}
