// Package retry runs fallible operations with bounded, linearly backed-off
// retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop. The wait before retry n (1-based) is
// Backoff(n).
type Policy struct {
	MaxRetries int
	Backoff    func(retry int) time.Duration
}

// Linear returns a policy waiting step, 2*step, 3*step, ... between attempts.
func Linear(maxRetries int, step time.Duration) Policy {
	return Policy{
		MaxRetries: maxRetries,
		Backoff:    func(n int) time.Duration { return time.Duration(n) * step },
	}
}

// ExhaustedError reports the attempt count and the final failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the context
// ends, or the policy's retries run out. Exhaustion yields an
// *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := 1 + max(p.MaxRetries, 0)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		v, err := fn(ctx, i)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if i == attempts {
			break
		}
		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(i)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("retry aborted after %d attempts: %w", i, err)
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
