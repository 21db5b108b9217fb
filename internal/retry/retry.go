// Package retry provides the bounded-attempt retry policy applied around
// external calls. Policies are plain values held by the calling code so
// that fallback semantics stay visible at each call site.
package retry

import (
	"context"
	"fmt"
)

// Policy describes a bounded retry: the total number of attempts (including
// the first) and a predicate deciding whether a given failure is worth
// another attempt. A nil Retryable retries every error.
type Policy struct {
	MaxAttempts int
	Retryable   func(error) bool
}

// Attempts returns a Policy with n total attempts that retries any error.
func Attempts(n int) Policy {
	return Policy{MaxAttempts: n}
}

// On returns a copy of p restricted to errors matching the predicate.
func (p Policy) On(retryable func(error) bool) Policy {
	p.Retryable = retryable
	return p
}

// Do runs op until it succeeds, the policy is exhausted, a non-retryable
// error occurs, or ctx is done. The parameters are identical on every
// attempt. It returns the last error observed; callers apply their own
// typed fallback on failure.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("retry: %d attempts exhausted: %w", attempts, lastErr)
}
