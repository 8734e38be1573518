// Package streaming fans finished invocations out to live subscribers.
package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

const defaultChannelBuffer = 64

// Event is one finished invocation.
type Event struct {
	InvocationID string                  `json:"invocation_id"`
	Action       string                  `json:"action"`
	Status       schema.InvocationStatus `json:"status"`
	Code         string                  `json:"code,omitempty"`
	Attempts     int                     `json:"attempts"`
	StartedAt    time.Time               `json:"started_at"`
	DurationMs   float64                 `json:"duration_ms"`
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Action   string
	Statuses []schema.InvocationStatus
}

func (f Filter) match(e Event) bool {
	if f.Action != "" && f.Action != e.Action {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == e.Status {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-memory pub/sub of invocation events. It is an action.Observer,
// so installing it on a runtime publishes every invocation.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Int64
}

var _ action.Observer = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Observe publishes rec.
func (h *Hub) Observe(_ context.Context, rec action.Record) {
	h.Publish(Event{
		InvocationID: rec.InvocationID,
		Action:       rec.Action,
		Status:       rec.Status,
		Code:         rec.Code,
		Attempts:     rec.Attempts,
		StartedAt:    rec.StartedAt.UTC(),
		DurationMs:   float64(rec.Duration.Microseconds()) / 1000,
	})
}

// Publish hands e to every matching subscriber. A subscriber whose buffer is
// full misses the event.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber until ctx is done or cancel is called.
// The channel is closed on either.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func()) {
	id := h.seq.Add(1)
	sub := &subscriber{ch: make(chan Event, defaultChannelBuffer), filter: filter}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
			close(stop)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
