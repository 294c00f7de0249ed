package render

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
)

// Router fans updates out to every sink. A failing sink does not stop the
// others; the first error is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Score(ctx context.Context, f animate.Frame) error {
	return r.each("score", func(s Sink) error { return s.Score(ctx, f) })
}

func (r *Router) Advise(ctx context.Context, a Advisory) error {
	return r.each("advisory", func(s Sink) error { return s.Advise(ctx, a) })
}

func (r *Router) Message(ctx context.Context, m Message) error {
	return r.each("message", func(s Sink) error { return s.Message(ctx, m) })
}

func (r *Router) Panel(ctx context.Context, p Panel) error {
	return r.each("panel", func(s Sink) error { return s.Panel(ctx, p) })
}

func (r *Router) Clear(ctx context.Context) error {
	return r.each("clear", func(s Sink) error { return s.Clear(ctx) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(what string, fn func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := fn(s); err != nil {
			// Async reports placement failures once.
			level := slog.LevelWarn
			if errors.Is(err, ErrPlacement) {
				level = slog.LevelDebug
			}
			r.logger.Log(context.Background(), level, "render: sink failed", "update", what, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
