package overlay

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hazyhaar/mailsentry/backend"
	"github.com/hazyhaar/mailsentry/journal"
	"github.com/hazyhaar/mailsentry/overlay/internal/actionlog"
	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
	"github.com/hazyhaar/mailsentry/overlay/internal/detect"
	"github.com/hazyhaar/mailsentry/overlay/internal/extract"
	"github.com/hazyhaar/mailsentry/overlay/internal/guard"
	"github.com/hazyhaar/mailsentry/overlay/internal/render"
)

// pipeline is the state shared by the detector, the guard and the animator.
// Every field and method is owned by the loop goroutine.
type pipeline struct {
	o *Overlay

	det   *detect.Detector
	guard *guard.Guard
	anim  *animate.Animator

	inflight context.CancelFunc
	shown    bool

	locator      string
	panelKnown   bool
	panelVisible bool

	channel string
	stale   int64
	lastErr string
}

func newPipeline(o *Overlay) *pipeline {
	p := &pipeline{o: o, channel: "disabled"}
	if o.push != nil {
		p.channel = "connecting"
	}
	p.anim = animate.New(animatorConfig(o.cfg.Score), o.clock, p)
	p.guard = guard.New(guard.Config{Settle: o.cfg.Timing.Settle}, o.clock, p, o.logger)
	p.det = detect.New(detect.Config{
		Quiet:          o.cfg.Timing.Debounce,
		StructuralOnly: !o.cfg.Timing.AttributeChanges,
	}, o.clock, p.probe, p.settled, o.logger)
	return p
}

// probe reads the host's current locator and whether the conversation
// region is on screen. It also keeps the action panel in step with the
// locator, since the inbox view never produces a settled event.
func (p *pipeline) probe() (guard.Identity, bool) {
	ctx, cancel := context.WithTimeout(p.o.runContext(), probeTimeout)
	defer cancel()

	loc, err := p.o.doc.Locator(ctx)
	if err != nil {
		p.o.logger.Warn("overlay: read locator", "error", err)
		return "", false
	}
	p.setLocator(loc)

	doc, err := p.o.doc.HTML(ctx)
	if err != nil {
		p.o.logger.Warn("overlay: read document", "error", err)
		return "", false
	}
	id := guard.FromLocator(loc)
	if !extract.Present(doc, p.o.cfg.Host.Selectors.Anchor) {
		p.left(id)
		return "", false
	}
	return id, true
}

// left handles a settled document without a conversation. Leaving the
// accepted conversation tears its artifacts down so that returning to it
// scores it again.
func (p *pipeline) left(id guard.Identity) {
	run, ok := p.guard.Current()
	if !ok || run.Identity == id {
		return
	}
	p.o.logger.Debug("overlay: conversation closed", "identity", run.Identity)
	p.guard.Invalidate()
	p.Teardown()
}

func (p *pipeline) settled(s detect.Settled) {
	p.o.metrics.Settled.Inc()
	before := p.guard.Stats().Suppressed
	p.guard.Settled(s.Identity)
	if p.guard.Stats().Suppressed > before {
		p.o.metrics.Suppressed.Inc()
	}
}

// Teardown implements guard.Runner.
func (p *pipeline) Teardown() {
	if p.inflight != nil {
		p.inflight()
		p.inflight = nil
	}
	p.anim.Stop()
	if p.shown {
		p.shown = false
		p.o.metrics.DisplayedScore.Set(0)
		if err := p.o.sink.Clear(context.Background()); err != nil {
			p.o.logger.Debug("overlay: clear", "error", err)
		}
	}
}

// Extract implements guard.Runner.
func (p *pipeline) Extract(id guard.Identity) (extract.Item, bool) {
	ctx, cancel := context.WithTimeout(p.o.runContext(), probeTimeout)
	defer cancel()

	// The host may have moved on during the settle delay; its own settled
	// event will follow.
	loc, err := p.o.doc.Locator(ctx)
	if err != nil || guard.FromLocator(loc) != id {
		return extract.Item{}, false
	}
	doc, err := p.o.doc.HTML(ctx)
	if err != nil {
		p.o.logger.Warn("overlay: read document", "error", err)
		return extract.Item{}, false
	}
	item, err := extract.FromHTML(doc, extractOptions(p.o.cfg.Host))
	if err != nil {
		if !errors.Is(err, extract.ErrUnavailable) {
			p.o.logger.Warn("overlay: extract", "identity", id, "error", err)
		}
		return extract.Item{}, false
	}
	return item, true
}

// Start implements guard.Runner: it shows the pending badge and issues the
// scoring request.
func (p *pipeline) Start(run guard.Run) {
	p.o.metrics.Accepted.Inc()
	p.lastErr = ""
	p.shown = true
	p.anim.Begin()

	e := journal.Event("guard", "accept", map[string]string{"subject": run.Item.Subject, "sender": run.Item.Sender}, nil)
	e.Identity, e.Token = string(run.Identity), run.Token
	p.o.record(e)

	ctx, cancel := context.WithTimeout(p.o.runContext(), p.o.cfg.Backend.ScoreTimeout)
	p.inflight = cancel
	item := backend.Item{
		Subject: run.Item.Subject,
		Sender:  run.Item.Sender,
		Date:    run.Item.Date,
		Content: run.Item.Body,
	}
	go func() {
		start := time.Now()
		score, err := p.o.backend.AnalyzePhishing(ctx, item)
		elapsed := time.Since(start)
		cancel()
		p.o.post(func() { p.scored(run, score, err, elapsed) })
	}()
}

// scored applies a scoring response, unless its run has been superseded.
func (p *pipeline) scored(run guard.Run, score int, err error, elapsed time.Duration) {
	o := p.o
	e := journal.Event("scoring", "analyze", nil, err)
	e.Identity, e.Token, e.DurationMs = string(run.Identity), run.Token, elapsed.Milliseconds()

	if !p.guard.IsCurrent(run.Token) {
		p.stale++
		o.metrics.StaleResponses.Inc()
		e.Status = journal.StatusStale
		if errors.Is(err, context.Canceled) {
			o.metrics.ScoringRequests.WithLabelValues("canceled").Inc()
			e.Status = journal.StatusCanceled
		}
		o.record(e)
		o.logger.Debug("overlay: stale scoring response discarded", "identity", run.Identity, "token", run.Token)
		return
	}

	p.inflight = nil
	o.metrics.ScoringDuration.Observe(elapsed.Seconds())
	if err != nil {
		result := "transport"
		var rejected *backend.ErrScoringRejected
		if errors.As(err, &rejected) {
			result = "rejected"
		}
		o.metrics.ScoringRequests.WithLabelValues(result).Inc()
		p.lastErr = err.Error()
		o.record(e)
		o.logger.Warn("overlay: scoring failed", "identity", run.Identity, "error", err)
		p.anim.Fail()
		return
	}

	o.metrics.ScoringRequests.WithLabelValues("ok").Inc()
	e.Detail = `{"score":` + strconv.Itoa(score) + `}`
	o.record(e)
	o.logger.Info("overlay: scored", "identity", run.Identity, "score", score, "duration_ms", elapsed.Milliseconds())
	p.anim.Converge(score)
}

// Frame implements animate.Display.
func (p *pipeline) Frame(f animate.Frame) {
	p.o.metrics.DisplayedScore.Set(float64(f.Displayed))
	if err := p.o.sink.Score(context.Background(), f); err != nil {
		p.o.logger.Debug("overlay: score frame", "error", err)
	}
}

// Advise implements animate.Display.
func (p *pipeline) Advise(score int) {
	p.o.metrics.Advisories.Inc()
	if err := p.o.sink.Advise(context.Background(), render.NewAdvisory(score)); err != nil {
		p.o.logger.Debug("overlay: advisory", "error", err)
	}
}

// setLocator refreshes the action panel when the view switches between the
// inbox list and anything else.
func (p *pipeline) setLocator(loc string) {
	p.locator = loc
	visible := actionlog.InboxVisible(loc)
	if p.panelKnown && visible == p.panelVisible {
		return
	}
	p.panelKnown = true
	p.panelVisible = visible
	p.renderPanel()
}

func (p *pipeline) renderPanel() {
	panel := render.Panel{Visible: p.panelVisible, Entries: p.o.actions.List()}
	if err := p.o.sink.Panel(context.Background(), panel); err != nil {
		p.o.logger.Debug("overlay: panel", "error", err)
	}
}

// reset forgets the accepted run and the panel state after the host page
// is reloaded, since the reload discards every injected artifact.
func (p *pipeline) reset() {
	p.det.Stop()
	p.guard.Stop()
	p.guard.Invalidate()
	p.Teardown()
	p.panelKnown = false
}

// shutdown stops every timer and cancels in-flight work. Called once the
// loop has returned.
func (p *pipeline) shutdown() {
	p.det.Stop()
	p.guard.Stop()
	p.anim.Stop()
	if p.inflight != nil {
		p.inflight()
		p.inflight = nil
	}
}
