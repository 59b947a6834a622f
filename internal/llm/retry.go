// Package llm – retry combinator.
//
// This file provides a small reusable wrapper around cenkalti/backoff for
// retrying any fallible operation with bounded exponential backoff and
// jitter. The provider call is the only current caller, but the combinator is
// deliberately generic: attempts, base delay, and the retryability predicate
// are all parameters rather than baked into the call site.
package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds a retry loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first.
	// Values < 1 are coerced to 1.
	MaxAttempts int
	// BaseDelay is the initial backoff interval; subsequent waits grow
	// exponentially with randomized jitter. Values <= 0 default to 2s.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Values <= 0 default to 10s.
	MaxDelay time.Duration
}

// withDefaults normalizes the policy fields.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// RetryValue runs op under the policy, retrying only while retryable(err)
// reports true. The first non-retryable error, context cancellation, or
// attempt exhaustion ends the loop; the last error is returned unchanged.
func RetryValue[T any](ctx context.Context, policy RetryPolicy, retryable func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BaseDelay
	bo.MaxInterval = policy.MaxDelay
	bo.RandomizationFactor = 0.5
	bo.Reset()

	wrapped := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(policy.MaxAttempts-1)),
		ctx,
	)

	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, wrapped)
}
