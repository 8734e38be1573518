package action

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/pkg/schema"
	"go.opentelemetry.io/otel/trace"
)

// Runtime executes compiled actions. One runtime is usually shared by every
// action of a process so they report to the same logger, tracer and
// observers and share circuit breaker state.
type Runtime struct {
	engine *engine.Engine
}

// RuntimeOption configures a Runtime.
type RuntimeOption = engine.Option

// Observer is notified after every invocation.
type Observer = engine.Observer

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc = engine.ObserverFunc

// Record summarizes one finished invocation.
type Record = engine.Record

// NewRuntime creates a runtime.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	return &Runtime{engine: engine.New(opts...)}
}

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) RuntimeOption { return engine.WithLogger(l) }

// WithTracer sets the tracer used for invocation spans.
func WithTracer(t trace.Tracer) RuntimeOption { return engine.WithTracer(t) }

// WithObserver registers an invocation observer.
func WithObserver(o Observer) RuntimeOption { return engine.WithObserver(o) }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger { return r.engine.Logger() }

// CircuitState returns the breaker state of the named action.
func (r *Runtime) CircuitState(action string) string {
	return r.engine.Breakers().State(action).String()
}

var defaultRuntime = sync.OnceValue(func() *Runtime { return NewRuntime() })

// DefaultRuntime returns the runtime used by builders created without
// UseRuntime.
func DefaultRuntime() *Runtime { return defaultRuntime() }

// Option configures a builder at creation.
type Option func(*config)

// UseRuntime makes the built actions execute on rt.
func UseRuntime(rt *Runtime) Option {
	return func(c *config) {
		if rt != nil {
			c.runtime = rt
		}
	}
}

// CallOption configures a single invocation.
type CallOption func(*engine.Call)

// WithOverrideArgs merges args over the raw object input before validation.
// Actions without an input schema receive the merged object as is.
func WithOverrideArgs(args map[string]any) CallOption {
	return func(c *engine.Call) {
		if c.Override == nil {
			c.Override = make(map[string]any, len(args))
		}
		for k, v := range args {
			c.Override[k] = v
		}
	}
}

// WithPreviousState passes the caller's previous state to stateful form
// actions.
func WithPreviousState(state any) CallOption {
	return func(c *engine.Call) { c.PreviousState = state }
}

// WithRequest attaches the transport request the invocation came from.
func WithRequest(r *http.Request) CallOption {
	return func(c *engine.Call) { c.Request = r }
}

// WithResponseMeta lets the handler set the response status and headers.
func WithResponseMeta(m *schema.ResponseMeta) CallOption {
	return func(c *engine.Call) { c.ResponseMeta = m }
}

// WithInvocationID sets the invocation ID instead of generating one.
func WithInvocationID(id string) CallOption {
	return func(c *engine.Call) { c.InvocationID = id }
}

func newCall(raw any, opts []CallOption) engine.Call {
	call := engine.Call{Raw: raw}
	for _, opt := range opts {
		opt(&call)
	}
	return call
}
