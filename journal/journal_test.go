package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openMemory(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	j, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_LogAndRecent(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := Event("scoring", "analyze", map[string]int{"score": 10 * i}, nil)
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		e.Identity = "#inbox/abc"
		if err := j.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := j.Recent(ctx, Filter{Component: "scoring"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries: got %d, want 3", len(got))
	}
	if got[0].Detail != `{"score":20}` {
		t.Errorf("newest detail: got %s", got[0].Detail)
	}
	if got[0].Identity != "#inbox/abc" || got[0].Status != StatusOK {
		t.Errorf("entry: %+v", got[0])
	}
	if !got[2].Timestamp.Equal(base) {
		t.Errorf("oldest timestamp: got %v, want %v", got[2].Timestamp, base)
	}
}

func TestJournal_RecordAsyncAndFlush(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		j.Record(Event("guard", "accepted", nil, nil))
	}
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err := j.Recent(ctx, Filter{Operation: "accepted", Limit: 100})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("entries: got %d, want 10", len(got))
	}
}

func TestJournal_BufferFullFallsBackToSync(t *testing.T) {
	j := openMemory(t, WithBuffer(1))
	for i := 0; i < 20; i++ {
		j.Record(Event("channel", "state", nil, nil))
	}
	if err := j.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err := j.Recent(context.Background(), Filter{Limit: 100})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("entries: got %d, want 20", len(got))
	}
}

func TestEvent_Error(t *testing.T) {
	e := Event("scoring", "analyze", nil, errors.New("boom"))
	if e.Status != StatusError || e.Error != "boom" {
		t.Fatalf("got %+v", e)
	}
}

func TestJournal_IDGenerator(t *testing.T) {
	n := 0
	j := openMemory(t, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("fixed-%d", n)
	}))
	if err := j.Log(context.Background(), Event("action", "retrain", nil, nil)); err != nil {
		t.Fatal(err)
	}
	got, _ := j.Recent(context.Background(), Filter{})
	if len(got) != 1 || got[0].ID != "fixed-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestJournal_Cleanup(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()

	old := Event("guard", "accepted", nil, nil)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	if err := j.Log(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := j.Log(ctx, Event("guard", "accepted", nil, nil)); err != nil {
		t.Fatal(err)
	}

	n, err := j.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted: got %d, want 1", n)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j.Log(context.Background(), Event("action", "smart_sort", nil, nil)); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	got, err := j2.Recent(context.Background(), Filter{})
	if err != nil || len(got) != 1 {
		t.Fatalf("after reopen: %v %+v", err, got)
	}
}
