// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds how often and how patiently an external call is retried.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Backoff doubles the delay after every failed attempt when set.
	Backoff bool
}

// permanent wraps errors that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			}
			if p.Backoff {
				delay *= 2
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm permanent
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return errors.Join(lastErr, ctx.Err())
		}
	}
	return lastErr
}
