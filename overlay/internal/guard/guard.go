// Package guard decides when a settled document really shows a new item.
// It suppresses repeated work for the identity already accepted, tears down
// everything belonging to a superseded identity before new work starts, and
// hands out a per-run token that asynchronous results must present before
// they may touch the display.
package guard

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/mailsentry/idgen"
	"github.com/hazyhaar/mailsentry/overlay/internal/extract"
	"github.com/hazyhaar/mailsentry/overlay/internal/loop"
)

// Identity names the item currently displayed by the host, derived from a
// host locator such as the URL fragment.
type Identity string

// FromLocator derives an Identity from a host locator.
func FromLocator(locator string) Identity { return Identity(locator) }

// Run is one accepted processing run.
type Run struct {
	Identity Identity
	Token    string
	Item     extract.Item
}

// Runner performs the work the guard schedules.
type Runner interface {
	// Teardown hides stale artifacts and cancels in-flight work. It must be
	// idempotent.
	Teardown()
	// Extract reads the current item. ok=false means the content is not
	// rendered yet; the run is not accepted.
	Extract(id Identity) (item extract.Item, ok bool)
	// Start begins work for an accepted run.
	Start(run Run)
}

// Config controls the guard.
type Config struct {
	// Settle is the delay between a new identity and extraction, letting
	// dependent rendering finish mounting. Default: 300ms.
	Settle time.Duration
	// NewToken generates run tokens. Default: "run_" + idgen.Default.
	NewToken idgen.Generator
}

func (c *Config) defaults() {
	if c.Settle <= 0 {
		c.Settle = 300 * time.Millisecond
	}
	if c.NewToken == nil {
		c.NewToken = idgen.Prefixed("run_", idgen.Default)
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Suppressed int64 `json:"suppressed"`
	Teardowns  int64 `json:"teardowns"`
	Scheduled  int64 `json:"scheduled"`
	Accepted   int64 `json:"accepted"`
	Unready    int64 `json:"unready"`
}

// Guard is the only writer of the accepted identity. It is not safe for
// concurrent use: call it from the pipeline loop.
type Guard struct {
	cfg     Config
	clock   loop.Clock
	runner  Runner
	logger  *slog.Logger
	pending loop.Timer

	current  Run
	accepted bool

	stats Stats
}

// New creates a Guard.
func New(cfg Config, clock loop.Clock, runner Runner, logger *slog.Logger) *Guard {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{cfg: cfg, clock: clock, runner: runner, logger: logger}
}

// Settled handles a settled event for id.
func (g *Guard) Settled(id Identity) {
	if g.accepted && g.current.Identity == id {
		g.stats.Suppressed++
		g.logger.Debug("guard: identity unchanged, suppressed", "identity", id)
		return
	}

	// Clear the marker before anything else so a late response from the
	// superseded run fails IsCurrent.
	g.accepted = false
	g.current = Run{}
	g.teardown()

	if g.pending != nil {
		g.pending.Stop()
	}
	g.stats.Scheduled++
	g.pending = g.clock.AfterFunc(g.cfg.Settle, func() { g.settle(id) })
}

func (g *Guard) settle(id Identity) {
	g.pending = nil
	g.teardown()

	item, ok := g.runner.Extract(id)
	if !ok {
		g.stats.Unready++
		g.logger.Debug("guard: content not ready", "identity", id)
		return
	}

	g.current = Run{Identity: id, Token: g.cfg.NewToken(), Item: item}
	g.accepted = true
	g.stats.Accepted++
	g.logger.Info("guard: run accepted", "identity", id, "token", g.current.Token)
	g.runner.Start(g.current)
}

func (g *Guard) teardown() {
	g.stats.Teardowns++
	g.runner.Teardown()
}

// Invalidate forgets the accepted run so the next settled event for the same
// identity is processed again. In-flight results of the run become stale.
func (g *Guard) Invalidate() {
	if !g.accepted {
		return
	}
	g.logger.Debug("guard: run invalidated", "identity", g.current.Identity)
	g.accepted = false
	g.current = Run{}
}

// Stop cancels a scheduled settle without running it.
func (g *Guard) Stop() {
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}

// IsCurrent reports whether token belongs to the accepted run.
func (g *Guard) IsCurrent(token string) bool {
	return g.accepted && token != "" && g.current.Token == token
}

// Current returns the accepted run, if any.
func (g *Guard) Current() (Run, bool) {
	return g.current, g.accepted
}

// Stats returns the guard counters.
func (g *Guard) Stats() Stats { return g.stats }
