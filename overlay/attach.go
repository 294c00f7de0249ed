package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/hazyhaar/mailsentry/backend"
	"github.com/hazyhaar/mailsentry/horosafe"
	"github.com/hazyhaar/mailsentry/journal"
	"github.com/hazyhaar/mailsentry/overlay/internal/config"
	"github.com/hazyhaar/mailsentry/overlay/internal/hostpage"
	"github.com/hazyhaar/mailsentry/overlay/internal/render"
	"github.com/hazyhaar/mailsentry/pushchan"
)

// Session is an Overlay attached to a live browser tab.
type Session struct {
	*Overlay
	browser *hostpage.Browser
	tab     *hostpage.Tab
	journal *journal.Journal
}

// Attach opens the mailbox in Chrome (launched, or cfg.Host.Remote) and
// builds an Overlay over it with the configured backend, push channel,
// journal and sinks. Call Run, then Close.
func Attach(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *Session, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	be, err := backend.New(cfg.Backend.BaseURL, cfg.Backend.AllowRemote,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.RequestTimeout}),
		backend.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}

	var push Push
	if !cfg.Push.Disabled {
		if err := horosafe.ValidateEndpoint(cfg.Push.URL, cfg.Backend.AllowRemote, "ws", "wss"); err != nil {
			return nil, fmt.Errorf("overlay: push: %w", err)
		}
		push = pushchan.New(cfg.Push.URL,
			pushchan.WithReconnectDelay(cfg.Push.ReconnectDelay),
			pushchan.WithLogger(logger))
	}

	if cfg.Journal.Path != "" {
		s.journal, err = journal.Open(cfg.Journal.Path, journal.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("overlay: %w", err)
		}
		if n, err := s.journal.Cleanup(ctx, cfg.Journal.Retention); err != nil {
			logger.Warn("overlay: journal cleanup", "error", err)
		} else if n > 0 {
			logger.Info("overlay: journal cleanup", "deleted", n)
		}
	}

	s.browser, err = hostpage.Launch(ctx, hostpage.Config{
		Remote:           cfg.Host.Remote,
		Headless:         cfg.Host.Stealth == "headless",
		ResourceBlocking: cfg.Host.ResourceBlocking,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}
	s.tab, err = hostpage.Open(ctx, s.browser, cfg.Host.URL)
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}

	sink, err := buildSink(cfg, s.tab, logger)
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Document: s.tab,
		Backend:  be,
		Sink:     sink,
		Push:     push,
		Journal:  s.journal,
		Logger:   logger,
	}
	s.Overlay, err = New(cfg, deps)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// buildSink assembles the configured render outputs.
func buildSink(cfg *Config, tab *hostpage.Tab, logger *slog.Logger) (render.Sink, error) {
	var sinks []render.Sink
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "page":
			sinks = append(sinks, hostpage.NewSink(tab, cfg.Host.Selectors.Anchor, cfg.Host.Placement))
		case "stdout":
			sinks = append(sinks, render.NewStdout(os.Stdout))
		case "webhook":
			if err := horosafe.ValidateEndpoint(sc.URL, true, "http", "https"); err != nil {
				return nil, fmt.Errorf("overlay: sinks[%d]: %w", i, err)
			}
			sinks = append(sinks, render.NewWebhook(sc.URL, render.WithWebhookLogger(logger)))
		default:
			return nil, fmt.Errorf("overlay: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	switch len(sinks) {
	case 0:
		return nil, errors.New("overlay: no sink configured")
	case 1:
		return sinks[0], nil
	}
	return render.NewRouter(logger, sinks...), nil
}

// Close releases the overlay, the tab, the browser and the journal.
func (s *Session) Close() error {
	var errs []error
	if s.Overlay != nil {
		errs = append(errs, s.Overlay.Close())
	}
	errs = append(errs, s.release())
	return errors.Join(errs...)
}

func (s *Session) release() error {
	var errs []error
	if s.tab != nil {
		errs = append(errs, s.tab.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	return errors.Join(errs...)
}
