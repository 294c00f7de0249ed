// Package animate drives the displayed risk score toward an asynchronously
// received target.
//
// While the target is unknown a pending animation climbs toward a soft
// ceiling to signal liveness. When the target arrives the display either
// snaps (already at or past it) or steps toward it at a fixed cadence. At
// most one ticking handle exists at any time: every start stops the
// previous handle first.
package animate

import (
	"time"

	"github.com/hazyhaar/mailsentry/overlay/internal/loop"
)

// Band is the severity band of a displayed value.
type Band string

const (
	BandLow    Band = "low"    // [0,30]
	BandMedium Band = "medium" // (30,70]
	BandHigh   Band = "high"   // (70,100]
)

// BandOf classifies v. Used for rendering only.
func BandOf(v int) Band {
	switch {
	case v > 70:
		return BandHigh
	case v > 30:
		return BandMedium
	default:
		return BandLow
	}
}

// RiskLevel is the human description of a final score.
func RiskLevel(score int) string {
	switch BandOf(score) {
	case BandHigh:
		return "High"
	case BandMedium:
		return "Moderate"
	default:
		return "Low"
	}
}

// Phase is the animator state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePending     Phase = "pending"
	PhaseConverging  Phase = "converging"
	PhaseDone        Phase = "done"
	PhaseUnavailable Phase = "unavailable"
)

// Frame is one rendered state of the score.
type Frame struct {
	Displayed   int    `json:"displayed"`
	Target      int    `json:"target"`
	HasTarget   bool   `json:"has_target"`
	Band        Band   `json:"band"`
	Phase       Phase  `json:"phase"`
	Description string `json:"description,omitempty"`
}

// Display receives frames and advisories.
type Display interface {
	Frame(f Frame)
	Advise(score int)
}

// Config holds the animation constants.
type Config struct {
	PendingStep    int           // default 3
	PendingEvery   time.Duration // default 80ms
	PendingCeiling int           // default 95
	Step           int           // default 5
	Every          time.Duration // default 50ms
	AlertThreshold int           // advisory when target > threshold; default 60
}

func (c *Config) defaults() {
	if c.PendingStep <= 0 {
		c.PendingStep = 3
	}
	if c.PendingEvery <= 0 {
		c.PendingEvery = 80 * time.Millisecond
	}
	if c.PendingCeiling <= 0 || c.PendingCeiling > 100 {
		c.PendingCeiling = 95
	}
	if c.Step <= 0 {
		c.Step = 5
	}
	if c.Every <= 0 {
		c.Every = 50 * time.Millisecond
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 60
	}
}

// Animator owns the displayed value. Not safe for concurrent use.
type Animator struct {
	cfg     Config
	clock   loop.Clock
	display Display

	displayed int
	target    int
	hasTarget bool
	phase     Phase
	advised   bool
	handle    loop.Timer
	ticks     int
}

// New creates an idle Animator.
func New(cfg Config, clock loop.Clock, display Display) *Animator {
	cfg.defaults()
	return &Animator{cfg: cfg, clock: clock, display: display, phase: PhaseIdle}
}

// Begin resets the display to 0 for a newly accepted item and starts the
// pending animation.
func (a *Animator) Begin() {
	a.cancel()
	a.displayed = 0
	a.target = 0
	a.hasTarget = false
	a.advised = false
	a.ticks = 0
	a.phase = PhasePending
	a.render()
	a.schedule(a.cfg.PendingEvery, a.pendingTick)
}

func (a *Animator) pendingTick() {
	a.handle = nil
	a.ticks++
	a.displayed += a.cfg.PendingStep
	if a.displayed >= a.cfg.PendingCeiling {
		a.displayed = a.cfg.PendingCeiling
		a.render()
		return
	}
	a.render()
	a.schedule(a.cfg.PendingEvery, a.pendingTick)
}

// Converge applies the real target. The pending animation stops without
// moving the display backwards unless the target itself is lower.
func (a *Animator) Converge(target int) {
	a.cancel()
	target = clamp(target)
	a.target = target
	a.hasTarget = true

	if a.displayed >= target {
		a.displayed = target
		a.phase = PhaseDone
		a.render()
		a.maybeAdvise()
		return
	}

	a.phase = PhaseConverging
	a.render()
	a.schedule(a.cfg.Every, a.convergeTick)
}

func (a *Animator) convergeTick() {
	a.handle = nil
	a.ticks++
	a.displayed += a.cfg.Step
	if a.displayed > a.target {
		a.displayed = a.target
	}
	if a.displayed > a.cfg.AlertThreshold {
		a.maybeAdvise()
	}
	if a.displayed == a.target {
		a.phase = PhaseDone
		a.render()
		a.maybeAdvise()
		return
	}
	a.render()
	a.schedule(a.cfg.Every, a.convergeTick)
}

// Fail stops any animation and shows the unavailable sentinel.
func (a *Animator) Fail() {
	a.cancel()
	a.hasTarget = false
	a.phase = PhaseUnavailable
	a.render()
}

// Stop cancels any ticking handle and returns to idle without rendering.
func (a *Animator) Stop() {
	a.cancel()
	a.phase = PhaseIdle
}

// Snapshot returns the current frame.
func (a *Animator) Snapshot() Frame { return a.frame() }

// Active reports whether a ticking handle exists.
func (a *Animator) Active() bool { return a.handle != nil }

// Ticks returns the number of ticks since Begin.
func (a *Animator) Ticks() int { return a.ticks }

func (a *Animator) maybeAdvise() {
	if a.advised || !a.hasTarget || a.target <= a.cfg.AlertThreshold {
		return
	}
	a.advised = true
	a.display.Advise(a.target)
}

func (a *Animator) schedule(d time.Duration, f func()) {
	a.cancel()
	a.handle = a.clock.AfterFunc(d, f)
}

func (a *Animator) cancel() {
	if a.handle != nil {
		a.handle.Stop()
		a.handle = nil
	}
}

func (a *Animator) render() {
	a.display.Frame(a.frame())
}

func (a *Animator) frame() Frame {
	f := Frame{
		Displayed: a.displayed,
		Target:    a.target,
		HasTarget: a.hasTarget,
		Band:      BandOf(a.displayed),
		Phase:     a.phase,
	}
	switch a.phase {
	case PhaseUnavailable:
		f.Description = "Could not analyze risk level"
	case PhaseConverging, PhaseDone:
		f.Description = RiskLevel(a.target) + " risk level detected"
	}
	return f
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
