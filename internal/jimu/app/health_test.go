package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/app"
)

type fakeStatus struct {
	playbooks, routines int
	lastTick            time.Time
}

func (f *fakeStatus) PlaybookCount(context.Context) (int, error)  { return f.playbooks, nil }
func (f *fakeStatus) RoutineCount(context.Context) (int, error)   { return f.routines, nil }
func (f *fakeStatus) LastTick(context.Context) (time.Time, error) { return f.lastTick, nil }

func get(t *testing.T, h http.Handler, path string) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", path, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("GET %s: Content-Type %q", path, ct)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealthServer_Health(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", &fakeStatus{})
	resp := get(t, hs, "/health")
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestHealthServer_Status(t *testing.T) {
	tick := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	hs := app.NewHealthServer("127.0.0.1:0", &fakeStatus{playbooks: 4, routines: 2, lastTick: tick})
	resp := get(t, hs, "/status")

	if int(resp["playbook_count"].(float64)) != 4 {
		t.Errorf("playbook_count: got %v", resp["playbook_count"])
	}
	if int(resp["routine_count"].(float64)) != 2 {
		t.Errorf("routine_count: got %v", resp["routine_count"])
	}
	if resp["last_tick"] != "2026-03-02T09:00:00Z" {
		t.Errorf("last_tick: got %v", resp["last_tick"])
	}
	if _, ok := resp["uptime_seconds"]; !ok {
		t.Error("missing uptime_seconds")
	}
}

func TestHealthServer_StatusBeforeFirstTick(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", &fakeStatus{})
	resp := get(t, hs, "/status")
	if _, ok := resp["last_tick"]; ok {
		t.Errorf("last_tick should be omitted before the first tick, got %v", resp["last_tick"])
	}
}

func TestHealthServer_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := app.NewHealthServer("127.0.0.1:0", nil)
	if err := hs.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hs.Stop()
}
