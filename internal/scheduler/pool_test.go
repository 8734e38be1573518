package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BasicExecution(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown()

	var ran atomic.Int64
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		ran.Add(1)
		return nil
	}))
	pool.Wait()

	assert.Equal(t, int64(1), ran.Load())
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	const size = 3
	pool := NewPool(size)
	defer pool.Shutdown()

	var current, maxSeen atomic.Int64
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			c := current.Add(1)
			mu.Lock()
			if c > maxSeen.Load() {
				maxSeen.Store(c)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(size))
	assert.Positive(t, maxSeen.Load())
}

func TestPool_TrySubmitWhenFull(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	err := pool.TrySubmit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), pool.Metrics().Rejected)

	close(block)
	pool.Wait()
	assert.NoError(t, pool.TrySubmit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()
}

func TestPool_SubmitRespectsContext(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestPool_PanicRecovery(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		panic("boom")
	}))
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		return errors.New("failed")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(2), m.Failed)
	assert.Zero(t, m.Active)
}

func TestPool_ShutdownWaitsAndRejects(t *testing.T) {
	pool := NewPool(2)

	var finished atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	pool.Shutdown()
	assert.True(t, finished.Load(), "shutdown waits for running work")

	assert.ErrorIs(t, pool.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolShutdown)
	assert.ErrorIs(t, pool.TrySubmit(context.Background(), func(context.Context) error { return nil }), ErrPoolShutdown)
	pool.Shutdown()
}
