package action

import (
	"time"

	"github.com/rendis/actionkit/internal/engine"
)

// Hook is a lifecycle callback. Hooks cannot fail the invocation; a panic
// inside one is recovered and logged.
type Hook = engine.Hook

// HookEvent is what a hook receives: the invocation identity, the raw
// arguments and either the output (Data) or the normalized error (Err).
type HookEvent = engine.HookEvent

// RetryPolicy configures re-invocation of a failed action. Attempt 1 is the
// original call and the first retry is attempt 2. Timeouts are never retried.
type RetryPolicy = engine.RetryPolicy

// BreakerConfig configures the circuit breaker of an action.
type BreakerConfig = engine.CircuitBreakerConfig

// InputKind tells an action how its raw arguments are encoded.
type InputKind = engine.InputKind

const (
	InputValue    = engine.InputValue
	InputFormData = engine.InputFormData
	InputState    = engine.InputState
)

// ExponentialDelay doubles base on every retry, capped at maxDelay when positive.
func ExponentialDelay(base, maxDelay time.Duration) func(attempt int, err error) time.Duration {
	return engine.ExponentialDelay(base, maxDelay)
}

// LinearDelay waits attempt*step before each retry.
func LinearDelay(step time.Duration) func(attempt int, err error) time.Duration {
	return engine.LinearDelay(step)
}
