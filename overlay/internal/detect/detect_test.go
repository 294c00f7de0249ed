package detect

import (
	"testing"
	"time"

	"github.com/hazyhaar/mailsentry/overlay/internal/guard"
	"github.com/hazyhaar/mailsentry/overlay/internal/loop"
)

var epoch = time.Unix(1_700_000_000, 0)

type harness struct {
	clock   *loop.Fake
	det     *Detector
	events  []Settled
	id      guard.Identity
	present bool
}

func newHarness(cfg Config) *harness {
	h := &harness{clock: loop.NewFake(epoch), id: "#inbox/A", present: true}
	h.det = New(cfg, h.clock,
		func() (guard.Identity, bool) { return h.id, h.present },
		func(s Settled) { h.events = append(h.events, s) },
		nil)
	return h
}

func TestDetector_BurstCoalesces(t *testing.T) {
	for _, n := range []int{1, 2, 10, 250} {
		h := newHarness(Config{Quiet: 300 * time.Millisecond, StructuralOnly: true})

		var last time.Time
		for i := 0; i < n; i++ {
			h.det.Notify(Change{Added: 1})
			last = h.clock.Now()
			h.clock.Advance(299 * time.Millisecond)
		}
		if len(h.events) != 0 {
			t.Fatalf("n=%d: emitted during burst", n)
		}
		h.clock.Advance(time.Millisecond)

		if len(h.events) != 1 {
			t.Fatalf("n=%d: got %d events, want 1", n, len(h.events))
		}
		want := last.Add(300 * time.Millisecond)
		if !h.events[0].At.Equal(want) {
			t.Errorf("n=%d: settled at %v, want %v", n, h.events[0].At, want)
		}
		if h.events[0].Identity != "#inbox/A" {
			t.Errorf("n=%d: identity %q", n, h.events[0].Identity)
		}
	}
}

func TestDetector_SeparateBurstsEmitSeparately(t *testing.T) {
	h := newHarness(Config{Quiet: 100 * time.Millisecond})

	h.det.Notify(Change{Added: 3})
	h.clock.Advance(150 * time.Millisecond)
	h.id = "#inbox/B"
	h.det.Notify(Change{Added: 1})
	h.det.Notify(Change{Added: 1})
	h.clock.Advance(150 * time.Millisecond)

	if len(h.events) != 2 {
		t.Fatalf("got %d events, want 2", len(h.events))
	}
	if h.events[0].Identity != "#inbox/A" || h.events[1].Identity != "#inbox/B" {
		t.Fatalf("identities: %q, %q", h.events[0].Identity, h.events[1].Identity)
	}
}

func TestDetector_AbsentRegionEmitsNothing(t *testing.T) {
	h := newHarness(Config{Quiet: 50 * time.Millisecond})
	h.present = false

	h.det.Notify(Change{Added: 1})
	h.clock.Advance(time.Second)

	if len(h.events) != 0 {
		t.Fatalf("got %d events, want 0", len(h.events))
	}
	if h.det.Stats().Absent != 1 {
		t.Errorf("Absent: got %d, want 1", h.det.Stats().Absent)
	}
}

func TestDetector_StructuralOnlyIgnoresAttributeNoise(t *testing.T) {
	h := newHarness(Config{Quiet: 50 * time.Millisecond, StructuralOnly: true})

	h.det.Notify(Change{Attributes: true})
	h.det.Notify(Change{Removed: 2})
	h.clock.Advance(time.Second)

	if len(h.events) != 0 {
		t.Fatalf("got %d events, want 0", len(h.events))
	}
	st := h.det.Stats()
	if st.Ignored != 2 || st.Notifications != 2 {
		t.Errorf("stats: %+v", st)
	}
}

func TestDetector_StopCancelsPending(t *testing.T) {
	h := newHarness(Config{Quiet: 50 * time.Millisecond})

	h.det.Notify(Change{Added: 1})
	if !h.det.Pending() {
		t.Fatal("Pending: got false after Notify")
	}
	h.det.Stop()
	h.clock.Advance(time.Second)

	if len(h.events) != 0 {
		t.Fatalf("got %d events after Stop", len(h.events))
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("timers left: %d", h.clock.Pending())
	}
}

func TestDetector_DefaultQuiet(t *testing.T) {
	h := newHarness(Config{})
	h.det.Notify(Change{Added: 1})
	h.clock.Advance(299 * time.Millisecond)
	if len(h.events) != 0 {
		t.Fatal("emitted before default quiet period")
	}
	h.clock.Advance(time.Millisecond)
	if len(h.events) != 1 {
		t.Fatalf("got %d events, want 1", len(h.events))
	}
}
