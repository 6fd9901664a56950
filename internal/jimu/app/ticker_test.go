package app

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/internal/jimu/config"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

type fakeDue struct {
	calls  int
	ran    int
	err    error
	actors []string
}

func (f *fakeDue) RunDue(ctx context.Context) (int, error) {
	f.calls++
	f.actors = append(f.actors, trace.ActorFromContext(ctx))
	return f.ran, f.err
}

type fakeExpirer struct{ n int64 }

func (f *fakeExpirer) CheckExpiry(context.Context) (int64, error) { return f.n, nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "jimu-app-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	f.Close()
	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTicker_RunsDueAndRecordsLastTick(t *testing.T) {
	ctx := context.Background()
	cs := config.New(newTestStore(t))
	due := &fakeDue{ran: 3}
	tk := NewTicker(due, &fakeExpirer{n: 1}, cs)
	now := time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)
	tk.now = func() time.Time { return now }

	res, err := tk.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Ran != 3 || res.Expired != 1 || res.Paused {
		t.Errorf("unexpected result %+v", res)
	}
	if due.actors[0] != trace.SystemActor {
		t.Errorf("routines ran as %q, want %q", due.actors[0], trace.SystemActor)
	}

	last, err := config.GetTime(ctx, cs, config.KeyLastTick)
	if err != nil {
		t.Fatalf("GetTime: %v", err)
	}
	if !last.Equal(now) {
		t.Errorf("last tick: got %v, want %v", last, now)
	}
}

func TestTicker_Paused(t *testing.T) {
	ctx := context.Background()
	cs := config.New(newTestStore(t))
	if err := cs.Set(ctx, config.KeySchedulerPaused, "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	due := &fakeDue{ran: 1}
	tk := NewTicker(due, nil, cs)

	res, err := tk.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !res.Paused || due.calls != 0 {
		t.Errorf("paused tick ran routines: %+v, calls=%d", res, due.calls)
	}
	if last, _ := config.GetTime(ctx, cs, config.KeyLastTick); last.IsZero() {
		t.Error("paused tick should still record last tick")
	}
}

func TestTicker_RunDueError(t *testing.T) {
	ctx := context.Background()
	cs := config.New(newTestStore(t))
	tk := NewTicker(&fakeDue{err: errors.New("db gone")}, nil, cs)

	if _, err := tk.Tick(ctx); err == nil {
		t.Fatal("expected error")
	}
	if last, _ := config.GetTime(ctx, cs, config.KeyLastTick); !last.IsZero() {
		t.Errorf("failed tick recorded last tick %v", last)
	}
}

func TestTicker_RunStopsOnCancel(t *testing.T) {
	cs := config.New(newTestStore(t))
	tk := NewTicker(&fakeDue{}, nil, cs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tk.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
