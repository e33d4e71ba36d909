package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dropLog struct {
	mu      sync.Mutex
	reasons []string
}

func (d *dropLog) TaskDropped(_, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPool_RunsTasks(t *testing.T) {
	p := New(4, time.Second, quietLogger(), nil)

	var n atomic.Int32
	for range 10 {
		for !p.Submit("count", func(context.Context) error { n.Add(1); return nil }) {
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(10), n.Load())
}

func TestPool_DropsWhenSaturated(t *testing.T) {
	drops := &dropLog{}
	p := New(1, time.Second, quietLogger(), drops)

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.False(t, p.Submit("extra", func(context.Context) error { return nil }))
	assert.Equal(t, uint64(1), p.Dropped())

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.False(t, p.Submit("late", func(context.Context) error { return nil }))
	assert.Equal(t, []string{"saturated", "closed"}, drops.reasons)
}

func TestPool_TaskTimeout(t *testing.T) {
	p := New(1, 20*time.Millisecond, quietLogger(), nil)

	result := make(chan error, 1)
	require.True(t, p.Submit("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			result <- ctx.Err()
		case <-time.After(time.Second):
			result <- nil
		}
		return nil
	}))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task was not bounded by its timeout")
	}
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New(1, time.Second, quietLogger(), nil)

	require.True(t, p.Submit("panic", func(context.Context) error { panic("boom") }))
	require.NoError(t, p.Shutdown(context.Background()))

	err := safeCall(context.Background(), func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	want := errors.New("plain")
	assert.Equal(t, want, safeCall(context.Background(), func(context.Context) error { return want }))
}

func TestPool_ShutdownHonoursDeadline(t *testing.T) {
	p := New(1, 0, quietLogger(), nil)

	stopped := make(chan struct{})
	require.True(t, p.Submit("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
}

func TestPool_DurableTaskOverflowsWhenSaturated(t *testing.T) {
	drops := &dropLog{}
	p := New(1, time.Second, quietLogger(), drops)

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	ran := make(chan struct{})
	p.SubmitDurable("notify", func(context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("durable task waited for a free slot")
	}
	assert.Equal(t, uint64(0), p.Dropped())
	assert.Equal(t, uint64(1), p.Overflowed())
	assert.Empty(t, drops.reasons)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownWaitsForOverflow(t *testing.T) {
	p := New(1, time.Second, quietLogger(), nil)

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	var finished atomic.Bool
	p.SubmitDurable("notify", func(context.Context) error {
		<-release
		finished.Store(true)
		return nil
	})

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, finished.Load())
}

func TestPool_DurableTaskRunsInlineAfterShutdown(t *testing.T) {
	p := New(1, time.Second, quietLogger(), nil)
	require.NoError(t, p.Shutdown(context.Background()))

	var ran bool
	p.SubmitDurable("notify", func(ctx context.Context) error {
		ran = ctx.Err() == nil
		return nil
	})
	assert.True(t, ran)
	assert.Equal(t, uint64(0), p.Dropped())
}
