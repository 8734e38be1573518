package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

// InputKind tells the engine how raw arguments are encoded.
type InputKind int

const (
	// InputValue is a plain value (usually a decoded JSON object).
	InputValue InputKind = iota
	// InputFormData is a form payload (url.Values or map[string][]string).
	InputFormData
	// InputState is a form payload preceded by the caller's previous state.
	InputState
)

func (k InputKind) String() string {
	switch k {
	case InputFormData:
		return "formData"
	case InputState:
		return "state"
	default:
		return "value"
	}
}

// Env is the per-attempt environment every step and handler sees.
type Env struct {
	InvocationID  string
	Action        string
	Attempt       int
	Raw           any
	Request       *http.Request
	ResponseMeta  *schema.ResponseMeta
	PreviousState any
}

// Step is one link of a procedure chain. It receives the context produced by
// the previous link (nil for the first) and returns the next one.
type Step func(ctx context.Context, env *Env, prev any) (any, error)

// Handler is the terminal function of an action. input is the validated and
// decoded input; chainCtx is the value the chain produced.
type Handler func(ctx context.Context, env *Env, input any, chainCtx any) (any, error)

// DecodeFunc converts a validated JSON-shaped value into the handler's input type.
type DecodeFunc func(v any) (any, error)

// HookEvent is what lifecycle hooks receive.
type HookEvent struct {
	InvocationID string
	Action       string
	Attempt      int
	Raw          any
	// Data is set for success hooks and for onComplete after a success.
	Data any
	// Err is set for error hooks and parse-error hooks.
	Err *schema.ActionError
}

// Hook is a lifecycle callback. Panics are recovered and logged.
type Hook func(ctx context.Context, ev HookEvent)

// Hooks is one layer of lifecycle callbacks. A definition carries two
// layers, procedure then action, and both fire.
type Hooks struct {
	OnStart            Hook
	OnSuccess          Hook
	OnError            Hook
	OnComplete         Hook
	OnInputParseError  Hook
	OnOutputParseError Hook
}

// Merge returns h with every unset hook filled from fallback.
func (h Hooks) Merge(fallback Hooks) Hooks {
	if h.OnStart == nil {
		h.OnStart = fallback.OnStart
	}
	if h.OnSuccess == nil {
		h.OnSuccess = fallback.OnSuccess
	}
	if h.OnError == nil {
		h.OnError = fallback.OnError
	}
	if h.OnComplete == nil {
		h.OnComplete = fallback.OnComplete
	}
	if h.OnInputParseError == nil {
		h.OnInputParseError = fallback.OnInputParseError
	}
	if h.OnOutputParseError == nil {
		h.OnOutputParseError = fallback.OnOutputParseError
	}
	return h
}

// RetryPolicy configures re-invocation of a failed action. Attempt 1 is the
// original call; the first retry is attempt 2.
type RetryPolicy struct {
	MaxAttempts int
	// Delay is used when DelayFunc is nil.
	Delay time.Duration
	// DelayFunc receives the number of the attempt about to run and the
	// normalized error of the attempt that just failed.
	DelayFunc func(attempt int, err error) time.Duration
}

// Definition is the immutable, type-erased form of a compiled action or
// procedure. It is shared by all concurrent invocations and never mutated.
type Definition struct {
	Name        string
	Description string

	InputSchema  *schema.Schema
	OutputSchema *schema.Schema
	InputKind    InputKind
	Decode       DecodeFunc

	Chain   []Step
	Handler Handler

	Timeout time.Duration
	Retry   *RetryPolicy
	Breaker *CircuitBreakerConfig

	ProcedureHooks Hooks
	ActionHooks    Hooks

	// IsProcedure marks a chain resolved on its own. Procedures never
	// validate input and are never retried.
	IsProcedure bool
}

// Call carries the per-invocation arguments.
type Call struct {
	Raw           any
	Override      map[string]any
	PreviousState any
	Request       *http.Request
	ResponseMeta  *schema.ResponseMeta
	InvocationID  string
}
