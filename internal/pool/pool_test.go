package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/botstream/protocol"
)

func TestGoroutinePool_RunsTasks(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 4, QueueSize: 16})

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	p.Close()

	assert.Equal(t, int32(10), ran.Load())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
}

func TestGoroutinePool_RejectsWhenSaturated(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	// 唯一的 worker 忙碌，第二个任务占满队列
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }))

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)
	close(release)
}

func TestGoroutinePool_RecoversPanics(t *testing.T) {
	var mu sync.Mutex
	var recovered any
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1, PanicHandler: func(r any) {
		mu.Lock()
		recovered = r
		mu.Unlock()
	}})

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { panic("boom") }))
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "boom", recovered)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestGoroutinePool_SubmitAfterClose(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestGoroutinePool_ShutdownTimeout(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(p.Shutdown(ctx), context.DeadlineExceeded))
}

func TestFrameBufferPool_Capacity(t *testing.T) {
	b := FrameBufferPool.Get()
	assert.Zero(t, len(*b))
	assert.GreaterOrEqual(t, cap(*b), protocol.HeaderLength+protocol.MaxPayloadLength)

	*b = append(*b, 1, 2, 3)
	FrameBufferPool.Put(b)

	stats := FrameBufferPool.Stats()
	assert.GreaterOrEqual(t, stats.Gets, int64(1))
	assert.GreaterOrEqual(t, stats.Puts, int64(1))
}
