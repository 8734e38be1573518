package engine

import (
	"context"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

// Record summarizes one finished invocation for observers.
type Record struct {
	InvocationID string
	Action       string
	Status       schema.InvocationStatus
	// Code is empty on success.
	Code string
	// State is where the final attempt stopped.
	State     schema.State
	Attempts  int
	StartedAt time.Time
	Duration  time.Duration
	Err       *schema.ActionError
}

// Retries returns the number of re-invocations after the original call.
func (r Record) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Observer is notified after every invocation. Observe must not block for
// long: it runs on the caller's goroutine.
type Observer interface {
	Observe(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, rec Record)

func (f ObserverFunc) Observe(ctx context.Context, rec Record) { f(ctx, rec) }
