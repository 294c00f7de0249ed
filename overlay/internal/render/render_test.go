package render

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
)

func TestNewAdvisory(t *testing.T) {
	a := NewAdvisory(85)
	want := "⚠️ Warning: This email has a high phishing risk score of 85%. Please be cautious and verify the sender's identity before taking any action."
	if a.Text != want {
		t.Fatalf("got %q", a.Text)
	}
}

func TestStdout_WritesEnvelopes(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	s.Score(ctx, animate.Frame{Displayed: 42, Band: animate.BandMedium})
	s.Message(ctx, Message{Kind: KindInfo, Text: "hi"})
	s.Clear(ctx)

	sc := bufio.NewScanner(&buf)
	var types []string
	for sc.Scan() {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		types = append(types, env.Type)
	}
	if strings.Join(types, ",") != "score,message,clear" {
		t.Fatalf("types: %v", types)
	}
}

func TestRouter_FanOutContinuesOnError(t *testing.T) {
	var got []string
	failing := &funcSink{OnMessage: func(context.Context, Message) error { return errors.New("down") }}
	ok := &funcSink{OnMessage: func(_ context.Context, m Message) error {
		got = append(got, m.Text)
		return nil
	}}
	r := NewRouter(nil, failing, ok)
	err := r.Message(context.Background(), Message{Text: "x"})
	if err == nil {
		t.Fatal("expected first error")
	}
	if len(got) != 1 || got[0] != "x" {
		t.Fatalf("second sink: %v", got)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"type":"advisory"`) {
			t.Errorf("body: %s", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Advise(context.Background(), NewAdvisory(90)); err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_SkipsIntermediateFrames(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	ctx := context.Background()
	w.Score(ctx, animate.Frame{Displayed: 10, Phase: animate.PhaseConverging})
	w.Score(ctx, animate.Frame{Displayed: 40, Phase: animate.PhaseDone})
	if calls.Load() != 1 {
		t.Fatalf("calls: got %d, want 1", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.Clear(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAsync_PreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	cb := &funcSink{OnMessage: func(_ context.Context, m Message) error {
		mu.Lock()
		got = append(got, m.Text)
		mu.Unlock()
		return nil
	}}
	a := NewAsync(cb, 4, nil)
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		a.Message(context.Background(), Message{Text: s})
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "") != "abcdefg" {
		t.Fatalf("got %v", got)
	}
	// After Close, updates are dropped rather than panicking.
	a.Message(context.Background(), Message{Text: "late"})
}

func TestAsync_DropsIntermediateFramesWhenFull(t *testing.T) {
	release := make(chan struct{})
	var frames atomic.Int32
	cb := &funcSink{
		OnClear: func(context.Context) error {
			<-release
			return nil
		},
		OnScore: func(context.Context, animate.Frame) error {
			frames.Add(1)
			return nil
		},
	}
	a := NewAsync(cb, 1, nil)
	ctx := context.Background()
	a.Clear(ctx) // occupies the worker
	// Give the worker time to pick up Clear so the queue is empty.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		a.Score(ctx, animate.Frame{Displayed: i, Phase: animate.PhasePending})
	}
	close(release)
	a.Close()
	if n := frames.Load(); n != 1 {
		t.Fatalf("frames delivered: got %d, want 1", n)
	}
}

func TestAsync_Flush(t *testing.T) {
	var n atomic.Int32
	cb := &funcSink{OnMessage: func(context.Context, Message) error {
		time.Sleep(time.Millisecond)
		n.Add(1)
		return nil
	}}
	a := NewAsync(cb, 16, nil)
	defer a.Close()
	for i := 0; i < 5; i++ {
		a.Message(context.Background(), Message{Text: "x"})
	}
	if err := a.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := n.Load(); got != 5 {
		t.Fatalf("applied before Flush returned: got %d, want 5", got)
	}
}

func TestAsync_PlacementFailureWarnsOnce(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	cb := &funcSink{OnPanel: func(context.Context, Panel) error {
		if fail.Load() {
			return fmt.Errorf("%w: panel", ErrPlacement)
		}
		return nil
	}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewAsync(cb, 16, logger)
	defer a.Close()
	ctx := context.Background()

	warns := func() int {
		if err := a.Flush(ctx); err != nil {
			t.Fatal(err)
		}
		return strings.Count(buf.String(), `"level":"WARN"`)
	}

	a.Panel(ctx, Panel{})
	a.Panel(ctx, Panel{})
	if n := warns(); n != 1 {
		t.Fatalf("warnings after repeated failures: got %d, want 1", n)
	}

	fail.Store(false)
	a.Panel(ctx, Panel{})
	fail.Store(true)
	a.Panel(ctx, Panel{})
	if n := warns(); n != 2 {
		t.Fatalf("warnings after recovery: got %d, want 2", n)
	}
	a.Panel(ctx, Panel{})
	if n := warns(); n != 2 {
		t.Fatalf("warnings while still failing: got %d, want 2", n)
	}
}

// funcSink delivers updates to optional function fields.
type funcSink struct {
	OnScore   func(ctx context.Context, f animate.Frame) error
	OnAdvise  func(ctx context.Context, a Advisory) error
	OnMessage func(ctx context.Context, m Message) error
	OnPanel   func(ctx context.Context, p Panel) error
	OnClear   func(ctx context.Context) error
}

func (c *funcSink) Score(ctx context.Context, f animate.Frame) error {
	if c.OnScore != nil {
		return c.OnScore(ctx, f)
	}
	return nil
}

func (c *funcSink) Advise(ctx context.Context, a Advisory) error {
	if c.OnAdvise != nil {
		return c.OnAdvise(ctx, a)
	}
	return nil
}

func (c *funcSink) Message(ctx context.Context, m Message) error {
	if c.OnMessage != nil {
		return c.OnMessage(ctx, m)
	}
	return nil
}

func (c *funcSink) Panel(ctx context.Context, p Panel) error {
	if c.OnPanel != nil {
		return c.OnPanel(ctx, p)
	}
	return nil
}

func (c *funcSink) Clear(ctx context.Context) error {
	if c.OnClear != nil {
		return c.OnClear(ctx)
	}
	return nil
}

func (c *funcSink) Close() error { return nil }
