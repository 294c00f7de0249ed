// Package overlay is the reactive AI overlay for a webmail tab. It watches
// the host document for settled changes, accepts each newly displayed
// email once, scores it against the backend, animates the score badge
// toward the result, relays backend push notifications into a chat feed and
// keeps a short log of the actions it performed.
//
// All pipeline state is owned by a single event loop goroutine; network
// calls run on their own goroutines and post their results back.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/mailsentry/backend"
	"github.com/hazyhaar/mailsentry/journal"
	"github.com/hazyhaar/mailsentry/overlay/internal/actionlog"
	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
	"github.com/hazyhaar/mailsentry/overlay/internal/config"
	"github.com/hazyhaar/mailsentry/overlay/internal/detect"
	"github.com/hazyhaar/mailsentry/overlay/internal/extract"
	"github.com/hazyhaar/mailsentry/overlay/internal/guard"
	"github.com/hazyhaar/mailsentry/overlay/internal/loop"
	"github.com/hazyhaar/mailsentry/overlay/internal/metrics"
	"github.com/hazyhaar/mailsentry/overlay/internal/render"
	"github.com/hazyhaar/mailsentry/pushchan"
)

// Config is the overlay configuration.
type Config = config.Config

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config { return config.Default() }

// Document is the host page the overlay attaches to.
type Document interface {
	detect.Observer
	// Locator returns the host's address of the displayed item (the URL
	// fragment for Gmail).
	Locator(ctx context.Context) (string, error)
	// HTML returns a snapshot of the document.
	HTML(ctx context.Context) ([]byte, error)
	Reload(ctx context.Context) error
}

// Backend is the scoring and account service.
type Backend interface {
	AnalyzePhishing(ctx context.Context, item backend.Item) (int, error)
	Retrain(ctx context.Context) (string, error)
	Automate(ctx context.Context) (backend.AutomateResult, error)
	Actions(ctx context.Context) ([]backend.Action, error)
}

// Push is the backend notification channel.
type Push interface {
	Subscribe(fn func(pushchan.Event)) (cancel func())
	OnState(fn func(s pushchan.State, err error)) (cancel func())
	Run(ctx context.Context) error
}

// Deps are the collaborators of an Overlay. Document, Backend and Sink are
// required.
type Deps struct {
	Document Document
	Backend  Backend
	Sink     render.Sink
	Push     Push             // nil disables push notifications
	Journal  *journal.Journal // nil disables the event journal
	Metrics  *metrics.Metrics // nil creates a private registry
	Clock    loop.Clock       // nil uses the wall clock
	Logger   *slog.Logger
}

// Chat feed and action log texts.
const (
	welcomeText     = "Hello! I'm your AI Email Assistant. I'll help you manage your emails efficiently."
	retrainAction   = "Retrained model to update your AI persona"
	smartSortAction = "Smart sorted unread emails into appropriate categories"
)

const (
	reloadDelay    = time.Second
	probeTimeout   = 5 * time.Second
	reloadTimeout  = 30 * time.Second
	hydrateTimeout = 10 * time.Second
	loopBuffer     = 1024
	renderBuffer   = 256
)

// Overlay coordinates the pipeline.
type Overlay struct {
	cfg     Config
	doc     Document
	backend Backend
	push    Push
	journal *journal.Journal
	metrics *metrics.Metrics
	logger  *slog.Logger

	sink    *render.Async
	actions *actionlog.Ring
	loop    *loop.Loop
	clock   loop.Clock

	p *pipeline

	mu      sync.Mutex
	ctx     context.Context
	running bool
}

// New builds an Overlay. Nothing runs until Run is called.
func New(cfg *Config, deps Deps) (*Overlay, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Document == nil || deps.Backend == nil || deps.Sink == nil {
		return nil, errors.New("overlay: document, backend and sink are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Clock == nil {
		deps.Clock = loop.System
	}

	o := &Overlay{
		cfg:     *cfg,
		doc:     deps.Document,
		backend: deps.Backend,
		push:    deps.Push,
		journal: deps.Journal,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		ctx:     context.Background(),
	}
	o.sink = render.NewAsync(deps.Sink, renderBuffer, o.logger)
	o.actions = actionlog.New(
		actionlog.WithCapacity(o.cfg.ActionLog.Capacity),
		actionlog.WithClock(deps.Clock.Now),
	)
	o.loop = loop.New(loopBuffer, o.logger)
	o.clock = loop.Bind(deps.Clock, o.loop)
	o.p = newPipeline(o)
	return o, nil
}

// Run starts the loop, subscribes to the document and the push channel,
// and blocks until ctx is cancelled.
func (o *Overlay) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("overlay: already running")
	}
	o.running = true
	o.ctx = ctx
	o.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.loop.Run(ctx)
	}()

	o.post(func() { o.say(render.KindAssistant, welcomeText, "") })
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.hydrate(ctx)
	}()

	unsubscribe := o.doc.Subscribe(func(c detect.Change) {
		o.metrics.Notifications.Inc()
		o.post(func() { o.p.det.Notify(c) })
	})
	defer unsubscribe()

	// The conversation open at attach time produces no mutation of its own.
	o.post(func() { o.p.det.Notify(detect.Change{Added: 1}) })

	if o.push != nil {
		cancelEvents := o.push.Subscribe(func(ev pushchan.Event) {
			o.post(func() { o.pushed(ev) })
		})
		cancelStates := o.push.OnState(func(s pushchan.State, err error) {
			o.post(func() { o.channelState(s, err) })
		})
		defer cancelEvents()
		defer cancelStates()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.push.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Warn("overlay: push channel stopped", "error", err)
			}
		}()
	}

	o.logger.Info("overlay: running", "backend", o.cfg.Backend.BaseURL, "push", o.push != nil)
	<-ctx.Done()
	wg.Wait()
	o.p.shutdown()
	o.logger.Info("overlay: stopped")
	return nil
}

// Close flushes and closes the render sink. Call it after Run returns.
func (o *Overlay) Close() error {
	if err := o.sink.Close(); err != nil {
		return fmt.Errorf("overlay: close sink: %w", err)
	}
	return nil
}

// Metrics returns the overlay collectors.
func (o *Overlay) Metrics() *metrics.Metrics { return o.metrics }

// runContext is the context network work started by the pipeline derives
// from.
func (o *Overlay) runContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

// post queues f on the loop. Dropped silently once the loop stopped.
func (o *Overlay) post(f func()) {
	if !o.loop.Post(f) {
		o.logger.Debug("overlay: loop stopped, task dropped")
	}
}

func (o *Overlay) say(kind, text, tooltip string) {
	if err := o.sink.Message(context.Background(), render.Message{Kind: kind, Text: text, Tooltip: tooltip}); err != nil {
		o.logger.Debug("overlay: message", "error", err)
	}
}

func (o *Overlay) record(e journal.Entry) {
	if o.journal != nil {
		o.journal.Record(e)
	}
}

// hydrate loads the backend's action history into the ring, in the order
// the backend returns it.
func (o *Overlay) hydrate(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, hydrateTimeout)
	defer cancel()
	actions, err := o.backend.Actions(hctx)
	if err != nil {
		o.logger.Warn("overlay: load action history", "error", err)
		o.record(journal.Event("action", "hydrate", nil, err))
		return
	}
	entries := make([]actionlog.Entry, 0, len(actions))
	for _, a := range actions {
		entries = append(entries, actionlog.Entry{Action: a.Action, CreatedAt: a.CreatedAt})
	}
	o.actions.Hydrate(entries)
	o.record(journal.Event("action", "hydrate", map[string]int{"count": len(entries)}, nil))
	o.post(func() {
		if o.p.panelKnown {
			o.p.renderPanel()
		}
	})
}

// recordAction adds an entry to the action log and refreshes the panel.
// Loop only.
func (o *Overlay) recordAction(kind, action string) {
	o.actions.Record(action)
	o.metrics.Actions.WithLabelValues(kind).Inc()
	o.record(journal.Event("action", kind, map[string]string{"action": action}, nil))
	o.p.renderPanel()
}

// pushed relays a push event to the chat feed. Loop only.
func (o *Overlay) pushed(ev pushchan.Event) {
	o.metrics.ChannelEvents.WithLabelValues(ev.Type).Inc()
	o.say(messageKind(ev.Type), ev.Message, "")
	if ev.Type == pushchan.TypeSuccess {
		o.recordAction("push", ev.Message)
	}
}

func messageKind(pushType string) string {
	switch pushType {
	case pushchan.TypeSuccess:
		return render.KindSuccess
	case pushchan.TypeError:
		return render.KindError
	case pushchan.TypeWarning:
		return render.KindWarning
	default:
		return render.KindInfo
	}
}

// channelState tracks push channel transitions. Loop only.
func (o *Overlay) channelState(s pushchan.State, err error) {
	prev := o.p.channel
	o.p.channel = s.String()
	o.metrics.SetChannelState(s.String())
	if s == pushchan.StateConnecting && prev == pushchan.StateClosed.String() {
		o.metrics.ChannelReconnects.Inc()
	}
	if s != pushchan.StateConnecting {
		o.record(journal.Event("channel", s.String(), nil, err))
	}
}

// animatorConfig maps the configured constants.
func animatorConfig(c config.ScoreConfig) animate.Config {
	return animate.Config{
		PendingStep:    c.PendingStep,
		PendingEvery:   c.PendingEvery,
		PendingCeiling: c.PendingCeiling,
		Step:           c.Step,
		Every:          c.Every,
		AlertThreshold: c.AlertThreshold,
	}
}

func extractOptions(h config.HostConfig) extract.Options {
	return extract.Options{Selectors: h.Selectors, Mode: h.ExtractMode, MaxBody: h.MaxBody}
}

var _ guard.Runner = (*pipeline)(nil)
