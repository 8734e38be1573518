package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	invocationIDKey ctxKey = iota
	actionKey
	attemptKey
)

// WithInvocationID returns a context carrying the invocation ID.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey, id)
}

// WithAction returns a context carrying the action name.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey, name)
}

// WithAttempt returns a context carrying the current attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// InvocationID extracts the invocation ID from the context, or "" if absent.
func InvocationID(ctx context.Context) string {
	v, _ := ctx.Value(invocationIDKey).(string)
	return v
}

// Action extracts the action name from the context, or "" if absent.
func Action(ctx context.Context) string {
	v, _ := ctx.Value(actionKey).(string)
	return v
}

// Attempt extracts the attempt number from the context, or 0 if absent.
func Attempt(ctx context.Context) int {
	v, _ := ctx.Value(attemptKey).(int)
	return v
}

// WithIDs sets the invocation ID and action name at once.
func WithIDs(ctx context.Context, invocationID, action string) context.Context {
	ctx = WithInvocationID(ctx, invocationID)
	return WithAction(ctx, action)
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := InvocationID(ctx); v != "" {
		attrs = append(attrs, slog.String("invocation_id", v))
	}
	if v := Action(ctx); v != "" {
		attrs = append(attrs, slog.String("action", v))
	}
	if v := Attempt(ctx); v > 0 {
		attrs = append(attrs, slog.Int("attempt", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
