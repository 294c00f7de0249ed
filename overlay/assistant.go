package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/mailsentry/backend"
	"github.com/hazyhaar/mailsentry/journal"
	"github.com/hazyhaar/mailsentry/overlay/internal/actionlog"
	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
	"github.com/hazyhaar/mailsentry/overlay/internal/detect"
	"github.com/hazyhaar/mailsentry/overlay/internal/extract"
	"github.com/hazyhaar/mailsentry/overlay/internal/guard"
	"github.com/hazyhaar/mailsentry/overlay/internal/render"
)

// ErrNoJournal is returned by Events when the journal is disabled.
var ErrNoJournal = errors.New("overlay: journal disabled")

// Retrain rebuilds the backend's persona of the user and returns its
// summary. Progress is reported in the chat feed.
func (o *Overlay) Retrain(ctx context.Context) (string, error) {
	o.post(func() {
		o.recordAction("retrain", retrainAction)
		o.say(render.KindInfo, "Training Persona.", "")
	})

	summary, err := o.backend.Retrain(ctx)
	if err != nil {
		o.post(func() { o.say(render.KindError, "Error training persona. Please try again.", "") })
		o.record(journal.Event("assistant", "retrain", nil, err))
		return "", fmt.Errorf("overlay: retrain: %w", err)
	}
	o.post(func() { o.say(render.KindSuccess, "Persona Trained Successfully!", summary) })
	o.record(journal.Event("assistant", "retrain", nil, nil))
	return summary, nil
}

// SmartSort runs the backend's inbox automation. When the backend asks for
// it, the host page is reloaded shortly after a successful run.
func (o *Overlay) SmartSort(ctx context.Context) (backend.AutomateResult, error) {
	o.post(func() {
		o.say(render.KindAssistant, "Starting smart sort automation...", "")
		o.recordAction("smart_sort", smartSortAction)
	})

	res, err := o.backend.Automate(ctx)
	if err != nil {
		o.post(func() { o.say(render.KindError, fmt.Sprintf("Failed to run smart sort: %v", err), "") })
		o.record(journal.Event("assistant", "smart_sort", nil, err))
		return res, fmt.Errorf("overlay: smart sort: %w", err)
	}
	if !res.OK() {
		o.post(func() { o.say(render.KindError, "Error during smart sort: "+res.Detail, "") })
		o.record(journal.Event("assistant", "smart_sort", res, errors.New(res.Detail)))
		return res, nil
	}

	o.post(func() {
		o.say(render.KindSuccess, "Smart sort completed successfully!", "")
		if res.Refresh {
			o.clock.AfterFunc(reloadDelay, o.reload)
		}
	})
	o.record(journal.Event("assistant", "smart_sort", res, nil))
	return res, nil
}

// reload drops every injected artifact and reloads the host page. Loop
// only; the reload itself runs off the loop.
func (o *Overlay) reload() {
	o.p.reset()
	ctx := o.runContext()
	go func() {
		rctx, cancel := context.WithTimeout(ctx, reloadTimeout)
		defer cancel()
		if err := o.doc.Reload(rctx); err != nil {
			o.logger.Warn("overlay: reload host page", "error", err)
		}
	}()
}

// State is a point-in-time view of the pipeline.
type State struct {
	Locator      string            `json:"locator"`
	Identity     string            `json:"identity,omitempty"`
	Token        string            `json:"token,omitempty"`
	Item         *extract.Item     `json:"item,omitempty"`
	Score        animate.Frame     `json:"score"`
	LastError    string            `json:"last_error,omitempty"`
	PanelVisible bool              `json:"panel_visible"`
	Actions      []actionlog.Entry `json:"actions"`
	Channel      string            `json:"channel"`
	Stale        int64             `json:"stale_responses"`
	Detector     detect.Stats      `json:"detector"`
	Guard        guard.Stats       `json:"guard"`
}

// State snapshots the pipeline. It fails when the overlay is not running.
func (o *Overlay) State(ctx context.Context) (State, error) {
	var s State
	err := o.loop.Do(ctx, func() {
		p := o.p
		s = State{
			Locator:      p.locator,
			Score:        p.anim.Snapshot(),
			LastError:    p.lastErr,
			PanelVisible: p.panelVisible,
			Actions:      o.actions.List(),
			Channel:      p.channel,
			Stale:        p.stale,
			Detector:     p.det.Stats(),
			Guard:        p.guard.Stats(),
		}
		if run, ok := p.guard.Current(); ok {
			s.Identity = string(run.Identity)
			s.Token = run.Token
			item := run.Item
			s.Item = &item
		}
	})
	if err != nil {
		return State{}, fmt.Errorf("overlay: state: %w", err)
	}
	return s, nil
}

// Actions returns the action log, newest first.
func (o *Overlay) Actions() []actionlog.Entry { return o.actions.List() }

// Events returns recent journal entries.
func (o *Overlay) Events(ctx context.Context, f journal.Filter) ([]journal.Entry, error) {
	if o.journal == nil {
		return nil, ErrNoJournal
	}
	return o.journal.Recent(ctx, f)
}
