// Package retry replays operations with doubling backoff and jitter.
// Store transactions use it for serialization failures and deadlocks, and
// the cost ledger for flaky reads.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryableError marks an error as worth another attempt under the default
// policy.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err for retry. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries the Retryable mark.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// PermanentError stops retrying regardless of the policy.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as final. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy describes how an operation is replayed. The delay before retry n
// is BaseDelay·2^(n-1), capped at MaxDelay, spread by ±Jitter.
type Policy struct {
	// Attempts counts the first call; values below 1 mean a single call.
	Attempts  int
	BaseDelay time.Duration
	// MaxDelay of zero leaves the backoff uncapped.
	MaxDelay time.Duration
	// Jitter is a fraction in [0, 1].
	Jitter float64

	// ShouldRetry decides which errors are replayed. Nil retries only
	// errors marked with Retryable.
	ShouldRetry func(error) bool

	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retrier applies a Policy.
type Retrier struct {
	policy Policy
}

// New returns a Retrier for p.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{policy: p}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts run out. Exhausted Retryable errors are returned unwrapped; a
// cancelled context returns the last error seen.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if !r.shouldRetry(err) {
			return err
		}
		if attempt >= r.policy.Attempts {
			var re *RetryableError
			if errors.As(err, &re) {
				return re.Err
			}
			return err
		}

		delay := r.delay(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.policy.ShouldRetry != nil {
		return r.policy.ShouldRetry(err)
	}
	return IsRetryable(err)
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := r.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if r.policy.MaxDelay > 0 && d >= r.policy.MaxDelay {
			break
		}
	}
	if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	if r.policy.Jitter > 0 {
		d += time.Duration(float64(d) * r.policy.Jitter * (rand.Float64()*2 - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}

// DatabaseRetrier replays transactional store work three times. Only errors
// accepted by isTransient, or marked Retryable, are replayed.
func DatabaseRetrier(isTransient func(error) bool) *Retrier {
	return New(Policy{
		Attempts:  3,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
		Jitter:    0.05,
		ShouldRetry: func(err error) bool {
			return IsRetryable(err) || (isTransient != nil && isTransient(err))
		},
	})
}

// LedgerRetrier retries a cost ledger read once, unless the caller gave up.
func LedgerRetrier() *Retrier {
	return New(Policy{
		Attempts:  2,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Jitter:    0.2,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	})
}
