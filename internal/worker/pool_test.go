package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolRunsTasks(t *testing.T) {
	pool := NewPool(2, 8, zaptest.NewLogger(t))
	pool.Start(context.Background())

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		ok := pool.Submit(func(ctx context.Context) {
			done.Add(1)
		})
		require.True(t, ok)
	}

	deadline := time.Now().Add(2 * time.Second)
	for done.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(5), done.Load())

	pool.Stop()
}

func TestPoolSubmitFullQueue(t *testing.T) {
	pool := NewPool(1, 1, zaptest.NewLogger(t))
	pool.Start(context.Background())
	defer pool.Stop()

	block := make(chan struct{})
	started := make(chan struct{})

	require.True(t, pool.Submit(func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started

	// Worker is busy, so this one parks in the queue.
	require.True(t, pool.Submit(func(ctx context.Context) {}))

	assert.False(t, pool.Submit(func(ctx context.Context) {}))

	close(block)
}

func TestPoolStopWaitsForInflight(t *testing.T) {
	pool := NewPool(1, 4, zaptest.NewLogger(t))
	pool.Start(context.Background())

	var finished atomic.Bool
	started := make(chan struct{})
	require.True(t, pool.Submit(func(ctx context.Context) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	}))

	<-started
	pool.Stop()
	assert.True(t, finished.Load())
}

func TestPoolDefaults(t *testing.T) {
	pool := NewPool(0, 0, zaptest.NewLogger(t))
	assert.Equal(t, 1, pool.size)
	assert.Equal(t, 2, cap(pool.tasks))
}
