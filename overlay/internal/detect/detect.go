// Package detect turns the raw change notifications of an externally owned
// document into "content settled" events. Bursts of notifications are
// coalesced: every notification re-arms a quiet-period timer and only the
// timer expiry emits, so a burst produces at most one event.
package detect

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/mailsentry/overlay/internal/guard"
	"github.com/hazyhaar/mailsentry/overlay/internal/loop"
)

// Change is one raw notification from the host document. A single visible
// change typically arrives as many of these.
type Change struct {
	Added      int  `json:"added"`
	Removed    int  `json:"removed"`
	Attributes bool `json:"attributes"`
}

// Observer is a subscription to an externally owned tree whose mutation
// rate and granularity the overlay does not control.
type Observer interface {
	// Subscribe registers fn for every raw notification and returns a
	// function that cancels the subscription. fn may be called from any
	// goroutine.
	Subscribe(fn func(Change)) (cancel func())
}

// Settled is emitted once per quiesced burst.
type Settled struct {
	Identity guard.Identity
	At       time.Time
}

// Probe reports the identity currently displayed and whether the watched
// region is present at all.
type Probe func() (id guard.Identity, present bool)

// Config controls the detector.
type Config struct {
	// Quiet is the silence required before a burst is considered over.
	// Default: 300ms.
	Quiet time.Duration
	// StructuralOnly ignores notifications that add no nodes.
	StructuralOnly bool
}

func (c *Config) defaults() {
	if c.Quiet <= 0 {
		c.Quiet = 300 * time.Millisecond
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Notifications int64 `json:"notifications"`
	Ignored       int64 `json:"ignored"`
	Settled       int64 `json:"settled"`
	Absent        int64 `json:"absent"`
}

// Detector debounces notifications. It is not safe for concurrent use: all
// methods must be called from the pipeline loop.
type Detector struct {
	cfg    Config
	clock  loop.Clock
	probe  Probe
	emit   func(Settled)
	timer  loop.Timer
	stats  Stats
	logger *slog.Logger
}

// New creates a Detector. emit receives each settled event.
func New(cfg Config, clock loop.Clock, probe Probe, emit func(Settled), logger *slog.Logger) *Detector {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		clock:  clock,
		probe:  probe,
		emit:   emit,
		logger: logger,
	}
}

// Notify records one raw notification and re-arms the quiet-period timer.
func (d *Detector) Notify(c Change) {
	d.stats.Notifications++
	if d.cfg.StructuralOnly && c.Added == 0 {
		d.stats.Ignored++
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.cfg.Quiet, d.fire)
}

// Pending reports whether a burst is waiting for its quiet period.
func (d *Detector) Pending() bool { return d.timer != nil }

// Stop cancels a pending quiet-period timer without emitting.
func (d *Detector) Stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Stats returns the detector counters.
func (d *Detector) Stats() Stats { return d.stats }

func (d *Detector) fire() {
	d.timer = nil
	id, present := d.probe()
	if !present {
		d.stats.Absent++
		d.logger.Debug("detect: burst settled without target region")
		return
	}
	d.stats.Settled++
	d.emit(Settled{Identity: id, At: d.clock.Now()})
}
