package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/actionkit/pkg/action"
)

const (
	defaultRecorderBuffer = 256
	recordTimeout         = 5 * time.Second
)

// Recorder writes settled invocations to a Store. Observe only enqueues, so
// a slow database never holds up the caller; when the queue is full the
// record is dropped and logged.
type Recorder struct {
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *Invocation
	done   chan struct{}
}

var _ action.Observer = (*Recorder)(nil)

// NewRecorder starts a Recorder with a queue of the given size (<=0 for the default).
func NewRecorder(s Store, logger *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  s,
		logger: logger,
		queue:  make(chan *Invocation, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe implements action.Observer.
func (r *Recorder) Observe(_ context.Context, rec action.Record) {
	inv := FromRecord(rec)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- inv:
	default:
		r.logger.Warn("invocation log queue full, dropping record",
			slog.String("invocation_id", inv.ID),
			slog.String("action", inv.Action))
	}
}

// Close stops accepting records and waits until queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for inv := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.store.RecordInvocation(ctx, inv); err != nil {
			r.logger.Error("record invocation",
				slog.String("invocation_id", inv.ID),
				slog.String("action", inv.Action),
				slog.Any("error", err))
		}
		cancel()
	}
}

// FromRecord converts an engine record into a stored invocation.
func FromRecord(rec action.Record) *Invocation {
	inv := &Invocation{
		ID:        rec.InvocationID,
		Action:    rec.Action,
		Status:    rec.Status,
		Code:      rec.Code,
		State:     rec.State,
		Attempts:  rec.Attempts,
		StartedAt: rec.StartedAt,
		Duration:  rec.Duration,
	}
	if rec.Err != nil {
		if b, err := json.Marshal(rec.Err); err == nil {
			inv.Error = b
		}
	}
	return inv
}
