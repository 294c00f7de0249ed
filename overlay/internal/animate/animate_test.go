package animate

import (
	"testing"
	"time"

	"github.com/hazyhaar/mailsentry/overlay/internal/loop"
)

type recorder struct {
	frames   []Frame
	advisory []int
}

func (r *recorder) Frame(f Frame)    { r.frames = append(r.frames, f) }
func (r *recorder) Advise(score int) { r.advisory = append(r.advisory, score) }

func (r *recorder) last() Frame { return r.frames[len(r.frames)-1] }

func newAnimator() (*Animator, *recorder, *loop.Fake) {
	clock := loop.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	return New(Config{}, clock, rec), rec, clock
}

func TestAnimator_PendingClimbsToCeiling(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	if rec.last().Displayed != 0 || rec.last().Phase != PhasePending {
		t.Fatalf("Begin frame: %+v", rec.last())
	}

	clock.Advance(80 * time.Millisecond)
	if got := rec.last().Displayed; got != 3 {
		t.Fatalf("after one pending tick: got %d, want 3", got)
	}

	clock.Advance(10 * time.Second)
	if got := rec.last().Displayed; got != 95 {
		t.Fatalf("ceiling: got %d, want 95", got)
	}
	if a.Active() {
		t.Fatal("pending animation still ticking at ceiling")
	}
	if len(rec.advisory) != 0 {
		t.Fatal("pending animation raised an advisory")
	}
}

func TestAnimator_ConvergeStepsAndAdvisesOnce(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	// Three pending ticks: 9.
	clock.Advance(240 * time.Millisecond)
	if got := rec.last().Displayed; got != 9 {
		t.Fatalf("pending: got %d, want 9", got)
	}
	a.displayed = 10 // start from 10 exactly

	before := len(rec.frames)
	a.Converge(85)
	clock.Advance(10 * time.Second)

	// 10 -> 85 by 5: 15 ticks.
	var values []int
	for _, f := range rec.frames[before:] {
		values = append(values, f.Displayed)
	}
	prev := 10
	for _, v := range values {
		if v < prev {
			t.Fatalf("display moved backwards: %v", values)
		}
		if v > 85 {
			t.Fatalf("display overshot target: %v", values)
		}
		prev = v
	}
	if got := rec.last(); got.Displayed != 85 || got.Phase != PhaseDone {
		t.Fatalf("final frame: %+v", got)
	}
	if got := a.Ticks() - 3; got != 15 {
		t.Errorf("converge ticks: got %d, want 15", got)
	}
	if len(rec.advisory) != 1 || rec.advisory[0] != 85 {
		t.Fatalf("advisory: got %v, want [85]", rec.advisory)
	}
	if rec.last().Description != "High risk level detected" {
		t.Errorf("description: %q", rec.last().Description)
	}
}

func TestAnimator_SnapWhenAlreadyPast(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	clock.Advance(80 * time.Millisecond * 15) // 45
	ticks := a.Ticks()

	a.Converge(20)
	if got := rec.last(); got.Displayed != 20 || got.Phase != PhaseDone {
		t.Fatalf("snap frame: %+v", got)
	}
	if a.Active() {
		t.Fatal("ticking after snap")
	}
	clock.Advance(time.Second)
	if a.Ticks() != ticks {
		t.Fatalf("snap scheduled ticks: %d -> %d", ticks, a.Ticks())
	}
}

func TestAnimator_SnapAboveThresholdAdvises(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	clock.Advance(10 * time.Second) // at ceiling 95
	a.Converge(70)
	if len(rec.advisory) != 1 || rec.advisory[0] != 70 {
		t.Fatalf("advisory: %v", rec.advisory)
	}
}

func TestAnimator_NoAdvisoryAtThreshold(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	a.Converge(60)
	clock.Advance(10 * time.Second)
	if rec.last().Displayed != 60 {
		t.Fatalf("final: %+v", rec.last())
	}
	if len(rec.advisory) != 0 {
		t.Fatalf("advisory at threshold: %v", rec.advisory)
	}
}

func TestAnimator_ConvergeCancelsPendingWithoutJumpingBack(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	clock.Advance(400 * time.Millisecond) // 15
	at := rec.last().Displayed

	a.Converge(50)
	if got := rec.last().Displayed; got != at {
		t.Fatalf("converge moved display from %d to %d", at, got)
	}
	clock.Advance(50 * time.Millisecond)
	if got := rec.last().Displayed; got != at+5 {
		t.Fatalf("first converge tick: got %d, want %d", got, at+5)
	}
	// Only one handle: the converge one.
	if clock.Pending() != 1 {
		t.Fatalf("pending timers: got %d, want 1", clock.Pending())
	}
}

func TestAnimator_BeginCancelsPrevious(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	a.Converge(100)
	clock.Advance(100 * time.Millisecond)

	a.Begin()
	if rec.last().Displayed != 0 {
		t.Fatalf("Begin did not reset display: %+v", rec.last())
	}
	if clock.Pending() != 1 {
		t.Fatalf("pending timers: got %d, want 1", clock.Pending())
	}
	clock.Advance(80 * time.Millisecond)
	if rec.last().Phase != PhasePending || rec.last().Displayed != 3 {
		t.Fatalf("frame after restart: %+v", rec.last())
	}
}

func TestAnimator_FailShowsUnavailable(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	clock.Advance(160 * time.Millisecond)
	a.Fail()
	f := rec.last()
	if f.Phase != PhaseUnavailable || f.Description != "Could not analyze risk level" {
		t.Fatalf("fail frame: %+v", f)
	}
	if a.Active() {
		t.Fatal("ticking after Fail")
	}
}

func TestAnimator_ClampsTarget(t *testing.T) {
	a, rec, clock := newAnimator()
	a.Begin()
	a.Converge(250)
	clock.Advance(10 * time.Second)
	if rec.last().Displayed != 100 {
		t.Fatalf("clamp high: %+v", rec.last())
	}
	a.Begin()
	a.Converge(-4)
	if rec.last().Displayed != 0 {
		t.Fatalf("clamp low: %+v", rec.last())
	}
}

func TestBandOf(t *testing.T) {
	cases := []struct {
		v    int
		want Band
	}{
		{0, BandLow}, {30, BandLow}, {31, BandMedium}, {70, BandMedium}, {71, BandHigh}, {100, BandHigh},
	}
	for _, c := range cases {
		if got := BandOf(c.v); got != c.want {
			t.Errorf("BandOf(%d): got %s, want %s", c.v, got, c.want)
		}
	}
}
