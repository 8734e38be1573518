package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/internal/validation"
	"github.com/rendis/actionkit/pkg/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rendis/actionkit"

// Engine runs invocations of compiled definitions. It holds no per-call
// state and is safe for concurrent use.
type Engine struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	validator validation.Validator
	breakers  *Breakers
	observers []Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer used for invocation spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithValidator replaces the JSON Schema validator.
func WithValidator(v validation.Validator) Option {
	return func(e *Engine) {
		if v != nil {
			e.validator = v
		}
	}
}

// WithObserver adds an observer notified after every invocation.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// New creates an Engine. Without options it logs to stderr at info level and
// traces through the global otel provider.
func New(opts ...Option) *Engine {
	e := &Engine{
		validator: validation.NewJSONSchemaValidator(),
		breakers:  NewBreakers(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(logging.NewCorrelationHandler(
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Validator returns the engine's schema validator.
func (e *Engine) Validator() validation.Validator { return e.validator }

// Breakers returns the per-action circuit breaker registry.
func (e *Engine) Breakers() *Breakers { return e.breakers }

// Execute runs one invocation of def. Exactly one of the three results is
// meaningful: the output value on success, a normalized error on failure, or
// a control signal (redirect / not-found) that must reach the transport
// untouched.
func (e *Engine) Execute(ctx context.Context, def *Definition, call Call) (any, *schema.ActionError, error) {
	if call.InvocationID == "" {
		call.InvocationID = uuid.NewString()
	}
	ctx = logging.WithIDs(ctx, call.InvocationID, def.Name)
	ctx, span := e.tracer.Start(ctx, "action.invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("action.name", def.Name),
			attribute.String("action.invocation_id", call.InvocationID),
			attribute.Bool("action.procedure", def.IsProcedure),
		),
	)
	defer span.End()

	inv := &invocation{
		engine: e,
		def:    def,
		call:   call,
		span:   span,
		start:  time.Now(),
	}
	return inv.run(ctx)
}

// invocation is the ephemeral state of one Execute call.
type invocation struct {
	engine *Engine
	def    *Definition
	call   Call
	span   trace.Span
	start  time.Time

	attempt int
	state   schema.State
}

func (inv *invocation) run(ctx context.Context) (any, *schema.ActionError, error) {
	e, def := inv.engine, inv.def

	if def.Breaker != nil {
		if rejected := e.breakers.Allow(def.Name, *def.Breaker); rejected != nil {
			inv.span.AddEvent(schema.EventCircuitOpen)
			inv.attempt = 1
			inv.state = schema.StatePending
			inv.fireError(ctx, rejected)
			inv.finish(ctx, rejected, schema.InvocationStatusRejected)
			return nil, rejected, nil
		}
	}

	for inv.attempt = 1; ; inv.attempt++ {
		actx := logging.WithAttempt(ctx, inv.attempt)
		inv.span.AddEvent(schema.EventAttemptStarted,
			trace.WithAttributes(attribute.Int("attempt", inv.attempt)))

		value, state, err := e.runAttempt(actx, def, &inv.call, inv.attempt)
		inv.state = state
		if err == nil {
			inv.recordBreaker(nil)
			inv.finish(ctx, nil, schema.InvocationStatusSuccess)
			return value, nil, nil
		}

		if sig, ok := schema.AsControlSignal(err); ok {
			// The handler ran to a decision, so a trial slot is released.
			inv.recordBreaker(nil)
			inv.span.AddEvent(schema.EventSignalRaised,
				trace.WithAttributes(attribute.String("signal", string(sig.Kind))))
			inv.finish(ctx, nil, schema.InvocationStatusSignalled)
			return nil, nil, sig
		}

		aErr := schema.Normalize(err)
		if aErr.Code == schema.ErrCodeError && aErr.Cause != nil {
			logging.LogWith(actx, e.logger).Debug("attempt failed with unhandled error",
				slog.String("state", string(state)),
				slog.Any("error", aErr.Cause))
		}

		delay := RetryDelay(ctx, def, aErr, inv.attempt)
		if delay < 0 {
			inv.recordBreaker(aErr)
			inv.fireError(actx, aErr)
			status := schema.InvocationStatusFailed
			if aErr.Code == schema.ErrCodeTimeout {
				status = schema.InvocationStatusTimedOut
			}
			inv.finish(ctx, aErr, status)
			return nil, aErr, nil
		}

		inv.span.AddEvent(schema.EventAttemptRetrying, trace.WithAttributes(
			attribute.Int("attempt", inv.attempt),
			attribute.String("code", aErr.Code),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		))
		logging.LogWith(actx, e.logger).Debug("retrying action",
			slog.String("code", aErr.Code),
			slog.Duration("delay", delay))

		if werr := WaitForBackoff(ctx, delay); werr != nil {
			inv.recordBreaker(aErr)
			inv.fireError(actx, aErr)
			inv.finish(ctx, aErr, schema.InvocationStatusFailed)
			return nil, aErr, nil
		}
	}
}

func (inv *invocation) recordBreaker(err *schema.ActionError) {
	if inv.def.Breaker == nil {
		return
	}
	b := inv.engine.breakers
	if err == nil {
		b.Success(inv.def.Name)
		return
	}
	if b.Failure(inv.def.Name, err) == CircuitOpen {
		inv.span.AddEvent(schema.EventCircuitOpen)
	}
}

// fireError runs onError then onComplete, procedure layer first. These run
// after the attempt settled, so they are not subject to timeout checkpoints.
func (inv *invocation) fireError(ctx context.Context, err *schema.ActionError) {
	ev := inv.event(err)
	e, def := inv.engine, inv.def
	e.fire(ctx, "onError", def.ProcedureHooks.OnError, ev)
	e.fire(ctx, "onError", def.ActionHooks.OnError, ev)
	e.fire(ctx, "onComplete", def.ProcedureHooks.OnComplete, ev)
	e.fire(ctx, "onComplete", def.ActionHooks.OnComplete, ev)
}

func (inv *invocation) event(err *schema.ActionError) HookEvent {
	return HookEvent{
		InvocationID: inv.call.InvocationID,
		Action:       inv.def.Name,
		Attempt:      inv.attempt,
		Raw:          inv.call.Raw,
		Err:          err,
	}
}

func (inv *invocation) finish(ctx context.Context, err *schema.ActionError, status schema.InvocationStatus) {
	e := inv.engine
	elapsed := time.Since(inv.start)
	rec := Record{
		InvocationID: inv.call.InvocationID,
		Action:       inv.def.Name,
		Status:       status,
		State:        inv.state,
		Attempts:     inv.attempt,
		StartedAt:    inv.start,
		Duration:     elapsed,
		Err:          err,
	}

	inv.span.SetAttributes(
		attribute.Int("action.attempts", inv.attempt),
		attribute.String("action.status", string(status)),
	)
	switch {
	case err != nil:
		rec.Code = err.Code
		inv.span.SetAttributes(attribute.String("action.error_code", err.Code))
		inv.span.SetStatus(codes.Error, err.Error())
		inv.span.AddEvent(schema.EventInvocationFailed)
		logging.LogWith(ctx, e.logger).Info("action failed",
			slog.String("code", err.Code),
			slog.String("state", string(inv.state)),
			slog.Int("attempts", inv.attempt),
			slog.Duration("duration", elapsed))
	case status == schema.InvocationStatusSuccess:
		inv.state = schema.StateSuccess
		rec.State = schema.StateSuccess
		inv.span.SetStatus(codes.Ok, "")
		inv.span.AddEvent(schema.EventInvocationCompleted)
		logging.LogWith(ctx, e.logger).Debug("action completed",
			slog.Int("attempts", inv.attempt),
			slog.Duration("duration", elapsed))
	}

	for _, o := range e.observers {
		e.observe(ctx, o, rec)
	}
}

func (e *Engine) observe(ctx context.Context, o Observer, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogWith(ctx, e.logger).Error("observer panicked", slog.Any("panic", r))
		}
	}()
	o.Observe(ctx, rec)
}

// fire invokes a single hook, converting a panic into a log line.
func (e *Engine) fire(ctx context.Context, name string, h Hook, ev HookEvent) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.LogWith(ctx, e.logger).Error("lifecycle hook panicked",
				slog.String("hook", name),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	h(ctx, ev)
}
