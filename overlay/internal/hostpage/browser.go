// Package hostpage attaches to the webmail tab through the Chrome DevTools
// Protocol: it launches or connects to Chrome, opens the mailbox with stealth
// patches, bridges an injected MutationObserver back to Go, reads the
// document, and draws the overlay into the page.
package hostpage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config controls the browser.
type Config struct {
	// Remote is the websocket URL of an existing Chrome. Empty launches a
	// local one.
	Remote string
	// Headless hides the launched browser. The mailbox needs an interactive
	// login, so the default is a visible window.
	Headless bool
	// ResourceBlocking lists resource types to block (images, fonts, media,
	// stylesheets).
	ResourceBlocking []string
	Logger           *slog.Logger
}

// Browser is a connected Chrome.
type Browser struct {
	cfg    Config
	rod    *rod.Browser
	lnch   *launcher.Launcher
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

// Launch starts Chrome (or connects to cfg.Remote).
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger

	var wsURL string
	var lnch *launcher.Launcher
	if cfg.Remote != "" {
		wsURL = cfg.Remote
		log.Info("hostpage: connecting to remote chrome", "url", wsURL)
	} else {
		lnch = launcher.New().Context(ctx).Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("hostpage: launch: %w", err)
		}
		wsURL = u
		log.Info("hostpage: launched local chrome", "url", wsURL, "headless", cfg.Headless)
	}

	bctx, cancel := context.WithCancel(ctx)
	b := rod.New().Context(bctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		cancel()
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("hostpage: connect: %w", err)
	}
	return &Browser{cfg: cfg, rod: b, lnch: lnch, cancel: cancel}, nil
}

// Close disconnects. A Chrome started by Launch is killed; a remote one is
// left running.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.lnch != nil {
		err = b.rod.Close()
		b.lnch.Cleanup()
	}
	b.cancel()
	return err
}
