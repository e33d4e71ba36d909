// Package worker runs fire-and-forget side effects (notifications, email
// intents) on a bounded set of goroutines detached from the request that
// scheduled them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of side-effect work. Its error is logged, never returned to
// the caller that submitted it.
type Task func(ctx context.Context) error

// Submitter is the surface used by services. Submit may shed the task;
// SubmitDurable never does.
type Submitter interface {
	Submit(name string, task Task) bool
	SubmitDurable(name string, task Task)
}

// DropRecorder is told about every task that never ran.
type DropRecorder interface {
	TaskDropped(name, reason string)
}

type Pool struct {
	group   *errgroup.Group
	timeout time.Duration
	logger  *slog.Logger
	drops   DropRecorder

	// [LIFECYCLE_CONTROL] base context of every task, cancelled on hard stop
	ctx    context.Context
	cancel context.CancelFunc
	// mu orders Submit against Shutdown so no task is added after Wait starts
	mu     sync.RWMutex
	closed bool

	// [OVERFLOW] durable tasks that found every slot busy
	overflow sync.WaitGroup

	dropped    atomic.Uint64
	overflowed atomic.Uint64
}

var _ Submitter = (*Pool)(nil)

// New returns a pool running at most size tasks at once, each bounded by
// timeout.
func New(size int, timeout time.Duration, logger *slog.Logger, drops DropRecorder) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := new(errgroup.Group)
	g.SetLimit(size)

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		group:   g,
		timeout: timeout,
		logger:  logger,
		drops:   drops,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules task without blocking. It reports false when the pool is
// saturated or shutting down; the task is then dropped.
func (p *Pool) Submit(name string, task Task) bool {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.drop(name, "closed")
		return false
	}
	ok := p.group.TryGo(func() error {
		p.run(name, task)
		return nil
	})
	p.mu.RUnlock()

	if !ok {
		p.drop(name, "saturated")
	}
	return ok
}

// SubmitDurable schedules task without blocking the caller and without ever
// dropping it. A saturated pool hands the task to an overflow goroutine that
// Shutdown still waits for; a closed pool runs it on the calling goroutine.
func (p *Pool) SubmitDurable(name string, task Task) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.logger.Warn("SIDE_EFFECT_INLINE", "task", name, "reason", "closed")
		p.runWith(context.Background(), name, task)
		return
	}
	ok := p.group.TryGo(func() error {
		p.run(name, task)
		return nil
	})
	if !ok {
		p.overflow.Add(1)
	}
	p.mu.RUnlock()

	if ok {
		return
	}
	p.overflowed.Add(1)
	p.logger.Warn("SIDE_EFFECT_OVERFLOW", "task", name)
	go func() {
		defer p.overflow.Done()
		p.run(name, task)
	}()
}

// Overflowed counts durable tasks that ran outside the pool limit.
func (p *Pool) Overflowed() uint64 { return p.overflowed.Load() }

// Dropped counts tasks that were never started.
func (p *Pool) Dropped() uint64 { return p.dropped.Load() }

func (p *Pool) drop(name, reason string) {
	p.dropped.Add(1)
	if p.drops != nil {
		p.drops.TaskDropped(name, reason)
	}
	p.logger.Warn("SIDE_EFFECT_DROPPED", "task", name, "reason", reason)
}

func (p *Pool) run(name string, task Task) {
	p.runWith(p.ctx, name, task)
}

func (p *Pool) runWith(ctx context.Context, name string, task Task) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeCall(ctx, task)
	if err != nil {
		p.logger.Error("SIDE_EFFECT_FAILED",
			"task", name,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	p.logger.Debug("SIDE_EFFECT_COMPLETED", "task", name, "duration_ms", time.Since(start).Milliseconds())
}

// safeCall converts a panic into an error carrying the stack.
func safeCall(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first, running tasks are cancelled and ctx.Err is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		p.overflow.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
