// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Policy bounds how an operation is retried.
type Policy struct {
	MaxAttempts int                                              // total attempts including the first, at least 1
	Backoff     func(attempt int) time.Duration                  // wait after the given failed attempt (1-based)
	Retryable   func(err error) bool                             // nil means every error is retryable
	Sleep       func(ctx context.Context, d time.Duration) error // nil uses a timer
}

// Linear returns a backoff of step*attempt.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// Exponential returns a backoff starting at base and doubling per attempt up
// to limit.
func Exponential(base, limit time.Duration) func(int) time.Duration {
	b := &backoff.Backoff{Min: base, Max: limit, Factor: 2}
	return func(attempt int) time.Duration {
		return b.ForAttempt(float64(attempt - 1))
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. It returns the number of attempts made and the
// last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return attempt - 1, err
		}

		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return attempt, err
		}
	}
	return maxAttempts, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
