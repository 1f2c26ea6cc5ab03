package engine

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

func TestBlockPool_RunsSubmittedWork(t *testing.T) {
	p := NewBlockPool(4)
	defer p.Shutdown()

	var counter int64
	for i := 0; i < 20; i++ {
		err := p.Submit(context.Background(), func(context.Context) error {
			atomic.AddInt64(&counter, 1)
			return nil
		})
		require.NoError(t, err)
	}
	p.Wait()

	assert.Equal(t, int64(20), atomic.LoadInt64(&counter))
	m := p.Metrics()
	assert.Equal(t, int64(20), m.Completed)
	assert.Zero(t, m.Active)
}

func TestBlockPool_BoundsConcurrency(t *testing.T) {
	p := NewBlockPool(2)
	defer p.Shutdown()

	var active, peak int64
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		err := p.Submit(context.Background(), func(context.Context) error {
			cur := atomic.AddInt64(&active, 1)
			mu.Lock()
			if cur > peak {
				peak = cur
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return nil
		})
		require.NoError(t, err)
	}
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(2))
}

func TestBlockPool_SubmitRespectsContextWhileFull(t *testing.T) {
	p := NewBlockPool(1)
	defer p.Shutdown()

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Wait()
}

func TestBlockPool_ShutdownRejectsNewWork(t *testing.T) {
	p := NewBlockPool(1)
	p.Shutdown()

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolShutdown)
}

func TestBlockPool_ShutdownIdempotent(t *testing.T) {
	p := NewBlockPool(1)
	p.Shutdown()
	p.Shutdown()
}

func TestBlockPool_CountsFailuresAndPanics(t *testing.T) {
	p := NewBlockPool(2)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		panic("worse boom")
	}))
	p.Wait()

	m := p.Metrics()
	assert.Equal(t, int64(2), m.Failed)
	assert.Equal(t, int64(1), m.Panics)
}
