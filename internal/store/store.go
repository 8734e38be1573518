package store

import (
	"context"
	"time"
)

// Store persists the invocation log.
// All implementations must be safe for concurrent use.
type Store interface {
	// Invocations
	RecordInvocation(ctx context.Context, inv *Invocation) error
	GetInvocation(ctx context.Context, id string) (*Invocation, error)
	ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error)
	ActionStats(ctx context.Context, since time.Time) ([]*ActionStat, error)
	PruneInvocations(ctx context.Context, before time.Time) (int64, error)

	// Scheduled runs
	RecordScheduledRun(ctx context.Context, run *ScheduledRun) error
	ListScheduledRuns(ctx context.Context) ([]*ScheduledRun, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
