package hostpage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
	"github.com/hazyhaar/mailsentry/overlay/internal/render"
)

//go:embed ui.js
var uiJS string

// ErrPlacement is returned when the badge, advisory or panel target is not
// on the page.
var ErrPlacement = render.ErrPlacement

// Sink draws the overlay into the tab.
type Sink struct {
	tab       *Tab
	anchor    string
	placement string
}

// NewSink returns a render.Sink drawing into tab. The badge and advisory
// attach to anchor; the action panel is inserted before placement.
func NewSink(tab *Tab, anchor, placement string) *Sink {
	return &Sink{tab: tab, anchor: anchor, placement: placement}
}

func (s *Sink) Score(ctx context.Context, f animate.Frame) error {
	return s.call(ctx, "score", `(a, f) => window.__mailsentry.score(a, f)`, s.anchor, f)
}

func (s *Sink) Advise(ctx context.Context, a render.Advisory) error {
	return s.call(ctx, "advise", `(a, t) => window.__mailsentry.advise(a, t)`, s.anchor, a.Text)
}

func (s *Sink) Message(ctx context.Context, m render.Message) error {
	return s.call(ctx, "message", `(m) => window.__mailsentry.message(m)`, m)
}

func (s *Sink) Panel(ctx context.Context, p render.Panel) error {
	return s.call(ctx, "panel", `(sel, p) => window.__mailsentry.panel(sel, p)`, s.placement, p)
}

func (s *Sink) Clear(ctx context.Context) error {
	return s.call(ctx, "clear", `() => window.__mailsentry.clear()`)
}

func (s *Sink) Close() error { return nil }

// call evaluates js, installing ui.js first when the page lost it (full
// navigation). A false result means the placement target was missing.
func (s *Sink) call(ctx context.Context, what, js string, args ...any) error {
	page := s.tab.page.Context(ctx)
	ready, err := page.Eval(`() => !!window.__mailsentry`)
	if err != nil {
		return fmt.Errorf("hostpage: %s: %w", what, err)
	}
	if !ready.Value.Bool() {
		if _, err := page.Eval(uiJS); err != nil {
			return fmt.Errorf("hostpage: inject ui.js: %w", err)
		}
	}
	res, err := page.Eval(js, args...)
	if err != nil {
		return fmt.Errorf("hostpage: %s: %w", what, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s", ErrPlacement, what)
	}
	return nil
}
