package action

import (
	"context"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/pkg/schema"
)

// Invoker is the type-erased view of an action that transport adapters use:
// introspection plus invocation with an untyped result.
type Invoker interface {
	Name() string
	Description() string
	InputSchema() *schema.Schema
	OutputSchema() *schema.Schema
	InputKind() InputKind
	// InvokeAny runs the action. On success the value is returned; on failure
	// the normalized error. A non-nil error is a control signal.
	InvokeAny(ctx context.Context, raw any, opts ...CallOption) (any, *schema.ActionError, error)
}

// Action is a compiled action taking an I and producing an O. It is
// immutable and safe for concurrent use.
type Action[I, O any] struct {
	def     *engine.Definition
	runtime *Runtime
}

var _ Invoker = (*Action[any, any])(nil)

// Invoke runs the action with raw arguments. Failures are reported in the
// Result; the error return is reserved for control signals (redirect,
// not-found) that the transport must act on.
func (a *Action[I, O]) Invoke(ctx context.Context, raw any, opts ...CallOption) (Result[O], error) {
	value, aErr, sig := a.runtime.engine.Execute(ctx, a.def, newCall(raw, opts))
	return toResult[O](value, aErr, sig)
}

// InvokeAny implements Invoker.
func (a *Action[I, O]) InvokeAny(ctx context.Context, raw any, opts ...CallOption) (any, *schema.ActionError, error) {
	return a.runtime.engine.Execute(ctx, a.def, newCall(raw, opts))
}

// Name returns the action name.
func (a *Action[I, O]) Name() string { return a.def.Name }

// Description returns the action description.
func (a *Action[I, O]) Description() string { return a.def.Description }

// InputSchema returns the input schema, or nil when the action takes no
// validated input.
func (a *Action[I, O]) InputSchema() *schema.Schema { return a.def.InputSchema }

// OutputSchema returns the output schema, or nil when output is unchecked.
func (a *Action[I, O]) OutputSchema() *schema.Schema { return a.def.OutputSchema }

// InputKind returns how raw arguments are expected to be encoded.
func (a *Action[I, O]) InputKind() InputKind { return a.def.InputKind }

// Result is the outcome of an invocation: Data on success, Err on failure.
type Result[O any] struct {
	Data O                   `json:"data"`
	Err  *schema.ActionError `json:"error,omitempty"`
}

// OK returns true on success.
func (r Result[O]) OK() bool { return r.Err == nil }

// Unwrap returns the data and the error as a conventional pair.
func (r Result[O]) Unwrap() (O, error) {
	if r.Err != nil {
		var zero O
		return zero, r.Err
	}
	return r.Data, nil
}

func toResult[O any](value any, aErr *schema.ActionError, sig error) (Result[O], error) {
	if sig != nil {
		return Result[O]{}, sig
	}
	if aErr != nil {
		return Result[O]{Err: aErr}, nil
	}
	out, _ := value.(O)
	return Result[O]{Data: out}, nil
}
