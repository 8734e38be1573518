package engine

import (
	"context"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

// noRetry is the retry decision meaning "return the error now".
const noRetry time.Duration = -1

// RetryDelay decides whether a failed attempt is re-invoked and after how
// long. It returns a negative duration for no retry: without a policy, for
// TIMEOUT errors, for procedures, once attempt reaches MaxAttempts, or when
// the caller's context is already done.
func RetryDelay(ctx context.Context, def *Definition, err *schema.ActionError, attempt int) time.Duration {
	policy := def.Retry
	switch {
	case policy == nil,
		def.IsProcedure,
		err == nil,
		err.Code == schema.ErrCodeTimeout,
		attempt >= policy.MaxAttempts,
		ctx.Err() != nil:
		return noRetry
	}

	if policy.DelayFunc == nil {
		return max(policy.Delay, 0)
	}
	return max(policy.DelayFunc(attempt+1, err), 0)
}

// ExponentialDelay returns a delay function doubling base for every retry:
// base for attempt 2, 2*base for attempt 3, and so on, capped at maxDelay
// when maxDelay is positive.
func ExponentialDelay(base, maxDelay time.Duration) func(attempt int, err error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		delay := base
		for i := 2; i < attempt; i++ {
			delay *= 2
			if maxDelay > 0 && delay >= maxDelay {
				return maxDelay
			}
		}
		if maxDelay > 0 && delay > maxDelay {
			return maxDelay
		}
		return delay
	}
}

// LinearDelay returns a delay function growing by step per attempt:
// attempt*step.
func LinearDelay(step time.Duration) func(attempt int, err error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		return time.Duration(attempt) * step
	}
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if the context is cancelled.
// Returns an error if the context was cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
