// Package loop implements the single-goroutine event loop that owns all
// overlay pipeline state. Timer firings, host notifications, network
// completions and channel events are posted as closures and executed one at
// a time, so pipeline components never need their own locks.
package loop

import (
	"context"
	"errors"
	"log/slog"
)

// ErrStopped is returned when posting to a loop that is no longer running.
var ErrStopped = errors.New("loop: stopped")

// Loop runs posted tasks sequentially on one goroutine.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *slog.Logger
}

// New creates a Loop with the given task buffer. Call Run to start it.
func New(buffer int, logger *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes tasks until ctx is cancelled. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.tasks:
			l.exec(f)
		}
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", "panic", r)
		}
	}()
	f()
}

// Post queues f for execution. It blocks while the buffer is full and
// returns false once the loop has stopped. Never call Post from inside a
// task: call the function directly instead.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do posts f and waits for it to complete. Because the loop is FIFO, every
// task posted before Do has also completed when it returns.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
