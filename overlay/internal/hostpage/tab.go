package hostpage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/mailsentry/overlay/internal/detect"
)

// observerJS is an arrow function; Eval calls it directly.
//
//go:embed observer.js
var observerJS string

const bindingName = "__mailsentry_binding"

// Tab is the mailbox page.
type Tab struct {
	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     map[int]func(detect.Change)
	nextID   int
	listened bool
}

// Open creates a stealth tab, navigates to pageURL and waits for load.
func Open(ctx context.Context, b *Browser, pageURL string) (*Tab, error) {
	page, err := stealth.Page(b.rod)
	if err != nil {
		return nil, fmt.Errorf("hostpage: create tab: %w", err)
	}

	if len(b.cfg.ResourceBlocking) > 0 {
		blockResources(page, b.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("hostpage: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("hostpage: wait load timeout", "url", pageURL, "error", err)
	}

	tctx, tcancel := context.WithCancel(ctx)
	return &Tab{
		page:   page,
		logger: b.cfg.Logger,
		ctx:    tctx,
		cancel: tcancel,
		subs:   make(map[int]func(detect.Change)),
	}, nil
}

// Subscribe implements detect.Observer. The first subscription installs the
// binding and injects the MutationObserver.
func (t *Tab) Subscribe(fn func(detect.Change)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	start := !t.listened
	t.listened = true
	t.mu.Unlock()

	if start {
		if err := t.inject(); err != nil {
			t.logger.Error("hostpage: observer injection failed", "error", err)
		}
	}
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Tab) inject() error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(t.page); err != nil {
		t.logger.Warn("hostpage: addBinding failed (may already exist)", "error", err)
	}
	go t.listen()
	// Re-inject after full navigations; the hash router does not need it.
	if _, err := t.page.EvalOnNewDocument("(" + observerJS + ")()"); err != nil {
		t.logger.Warn("hostpage: register observer for new documents", "error", err)
	}
	if _, err := t.page.Context(t.ctx).Eval(observerJS); err != nil {
		return fmt.Errorf("hostpage: inject observer.js: %w", err)
	}
	return nil
}

func (t *Tab) listen() {
	t.page.Context(t.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		c, err := parseBinding(e.Payload)
		if err != nil {
			t.logger.Warn("hostpage: parse binding payload", "error", err)
			return
		}
		t.mu.Lock()
		subs := make([]func(detect.Change), 0, len(t.subs))
		for _, fn := range t.subs {
			subs = append(subs, fn)
		}
		t.mu.Unlock()
		for _, fn := range subs {
			fn(c)
		}
	})()
}

func parseBinding(payload string) (detect.Change, error) {
	var c detect.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return detect.Change{}, err
	}
	if c.Added < 0 || c.Removed < 0 {
		return detect.Change{}, errors.New("negative node count")
	}
	return c, nil
}

// Locator returns the page's URL fragment, which identifies the displayed
// conversation.
func (t *Tab) Locator(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => location.hash`)
	if err != nil {
		return "", fmt.Errorf("hostpage: read locator: %w", err)
	}
	return res.Value.Str(), nil
}

// HTML serialises the document.
func (t *Tab) HTML(ctx context.Context) ([]byte, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("hostpage: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Reload reloads the page.
func (t *Tab) Reload(ctx context.Context) error {
	if err := t.page.Context(ctx).Reload(); err != nil {
		return fmt.Errorf("hostpage: reload: %w", err)
	}
	return nil
}

// Close stops listening and closes the page.
func (t *Tab) Close() error {
	t.cancel()
	return t.page.Close()
}

// blockResources fails requests for the configured resource types.
func blockResources(page *rod.Page, types []string) {
	block := make(map[string]bool, len(types))
	for _, typ := range types {
		block[strings.ToLower(typ)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(block, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

func shouldBlock(block map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return block["images"]
	case "font":
		return block["fonts"]
	case "media":
		return block["media"]
	case "stylesheet":
		return block["stylesheets"]
	default:
		return block[lower]
	}
}
