package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
)

// Async decouples the caller from sink latency. Updates are queued and
// applied in order by one goroutine. When the queue is full, intermediate
// score frames are dropped; every other update waits for room.
type Async struct {
	next   Sink
	ch     chan func(context.Context) error
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync wraps next with a queue of size buffer (default 256).
func NewAsync(next Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:   next,
		ch:     make(chan func(context.Context) error, buffer),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// errFlushMark is returned by the Flush marker so run does not count it as
// a delivered update.
var errFlushMark = errors.New("render: flush mark")

// run applies updates. A placement failure is logged at Warn once, then at
// Debug until an update succeeds again.
func (a *Async) run() {
	defer close(a.done)
	misplaced := false
	for f := range a.ch {
		err := f(a.ctx)
		switch {
		case errors.Is(err, errFlushMark):
		case err == nil:
			misplaced = false
		case errors.Is(err, ErrPlacement) && !misplaced:
			misplaced = true
			a.logger.Warn("render: overlay placement failed", "error", err)
		default:
			a.logger.Debug("render: async update failed", "error", err)
		}
	}
}

func (a *Async) enqueue(droppable bool, f func(context.Context) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	if droppable {
		select {
		case a.ch <- f:
		default:
			a.logger.Debug("render: queue full, frame dropped")
		}
		return nil
	}
	select {
	case a.ch <- f:
	case <-a.ctx.Done():
		return a.ctx.Err()
	}
	return nil
}

func (a *Async) Score(_ context.Context, f animate.Frame) error {
	final := f.Phase == animate.PhaseDone || f.Phase == animate.PhaseUnavailable
	return a.enqueue(!final, func(ctx context.Context) error { return a.next.Score(ctx, f) })
}

func (a *Async) Advise(_ context.Context, adv Advisory) error {
	return a.enqueue(false, func(ctx context.Context) error { return a.next.Advise(ctx, adv) })
}

func (a *Async) Message(_ context.Context, m Message) error {
	return a.enqueue(false, func(ctx context.Context) error { return a.next.Message(ctx, m) })
}

func (a *Async) Panel(_ context.Context, p Panel) error {
	return a.enqueue(false, func(ctx context.Context) error { return a.next.Panel(ctx, p) })
}

func (a *Async) Clear(_ context.Context) error {
	return a.enqueue(false, func(ctx context.Context) error { return a.next.Clear(ctx) })
}

// Flush waits until every update queued before the call has been applied.
func (a *Async) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	if err := a.enqueue(false, func(context.Context) error {
		close(reached)
		return errFlushMark
	}); err != nil {
		return err
	}
	select {
	case <-reached:
		return nil
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close applies queued updates, then closes the wrapped sink. Updates
// enqueued after Close are dropped.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
	a.cancel()
	return a.next.Close()
}
