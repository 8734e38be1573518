package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics is a snapshot of pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Rejected  int64 `json:"rejected"`
}

var (
	// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("scheduler pool is shut down")
	// ErrPoolFull is returned by TrySubmit when every worker is busy.
	ErrPoolFull = errors.New("scheduler pool is full")
)

// Pool bounds how many job runs execute at once.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	active, completed, failed, panics, rejected atomic.Int64

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewPool creates a pool running at most size jobs concurrently.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit runs fn on a worker. It blocks while the pool is at capacity and
// gives up when ctx is cancelled or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}
	return p.start(ctx, fn)
}

// TrySubmit is like Submit but fails with ErrPoolFull instead of waiting.
func (p *Pool) TrySubmit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.sem <- struct{}{}:
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
	return p.start(ctx, fn)
}

// start launches fn once a slot is held.
func (p *Pool) start(ctx context.Context, fn func(ctx context.Context) error) error {
	// wg.Add must happen under the lock so Shutdown never waits on a
	// WaitGroup that is still growing.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.failed.Add(1)
			}
			p.active.Add(-1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until all submitted work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown refuses new work and waits for running jobs.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
		Rejected:  p.rejected.Load(),
	}
}
