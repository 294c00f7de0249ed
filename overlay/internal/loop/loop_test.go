package loop

import (
	"context"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestLoop_FIFO(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order: got %v", got)
		}
	}
	if len(got) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(got))
	}
}

func TestLoop_PanicDoesNotKillLoop(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("boom") })

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatal("task after panic did not run")
	}
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.Done()

	if l.Post(func() {}) {
		t.Fatal("Post after stop: got true")
	}
	if err := l.Do(context.Background(), func() {}); err != ErrStopped {
		t.Fatalf("Do after stop: got %v, want ErrStopped", err)
	}
}

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []string
	c.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })

	c.Advance(25 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("after 25ms: got %v", order)
	}
	c.Advance(5 * time.Millisecond)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("after 30ms: got %v", order)
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(10*time.Millisecond, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop on pending timer: got false")
	}
	c.Advance(time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if tm.Stop() {
		t.Fatal("second Stop: got true")
	}
}

func TestFake_RearmDuringAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		if ticks < 5 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(100 * time.Millisecond)
	if ticks != 5 {
		t.Fatalf("ticks: got %d, want 5", ticks)
	}
	if got := c.Now(); !got.Equal(time.Unix(0, 0).Add(100 * time.Millisecond)) {
		t.Fatalf("Now: got %v", got)
	}
}

func TestBind_StopSuppressesQueuedCallback(t *testing.T) {
	l := startLoop(t)
	base := NewFake(time.Unix(0, 0))
	c := Bind(base, l)

	fired := false
	var tm Timer
	if err := l.Do(context.Background(), func() {
		tm = c.AfterFunc(10*time.Millisecond, func() { fired = true })
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	// The running task stops the timer after its callback was queued.
	advanced := make(chan struct{})
	l.Post(func() {
		<-advanced
		tm.Stop()
	})
	base.Advance(20 * time.Millisecond)
	close(advanced)

	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if fired {
		t.Fatal("callback ran after Stop")
	}
}

func TestBind_CallbackRunsOnLoop(t *testing.T) {
	l := startLoop(t)
	base := NewFake(time.Unix(0, 0))
	c := Bind(base, l)

	fired := make(chan struct{})
	if err := l.Do(context.Background(), func() {
		c.AfterFunc(10*time.Millisecond, func() { close(fired) })
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	base.Advance(10 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("bound callback never ran")
	}
}
