// Package retry runs infrastructure operations with exponential backoff,
// retrying only errors that look transient.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy matches what the cache and repository layers use in production.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts
// are exhausted or ctx is done. onRetry, when set, is called before every
// retry with the attempt number that just failed and its error.
func Do(ctx context.Context, p Policy, fn func() error, onRetry func(attempt int, err error)) error {
	if p.Attempts <= 1 {
		return fn()
	}

	backoff := p.InitialBackoff
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == p.Attempts-1 {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
	}
	return err
}

// IsTransient reports whether err is worth retrying: deadlines, timeouts and
// errors that declare themselves temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
