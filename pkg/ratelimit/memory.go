package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Memory is an in-process token bucket per key.
type Memory struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemory creates a limiter refilling at limit tokens per second with the
// given burst.
func NewMemory(limit rate.Limit, burst int) *Memory {
	return &Memory{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow takes a token from key's bucket.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = rate.NewLimiter(m.limit, m.burst)
		m.buckets[key] = b
	}
	m.mu.Unlock()
	return b.Allow(), nil
}

var _ Limiter = (*Memory)(nil)
