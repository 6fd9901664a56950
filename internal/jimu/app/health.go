package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/Jimu/common/version"
)

// HealthServer serves /health and /status. It is optional; Jimu runs
// without it when JIMU_HTTP_ADDR is empty.
type HealthServer struct {
	addr      string
	status    StatusProvider
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

// StatusProvider supplies the counters reported by /status.
type StatusProvider interface {
	PlaybookCount(ctx context.Context) (int, error)
	RoutineCount(ctx context.Context) (int, error)
	// LastTick returns the zero time when the scheduler has not ticked yet.
	LastTick(ctx context.Context) (time.Time, error)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	Commit        string     `json:"commit"`
	BuildTime     string     `json:"build_time"`
	StartedAt     time.Time  `json:"started_at"`
	UptimeSecs    float64    `json:"uptime_seconds"`
	PlaybookCount int        `json:"playbook_count"`
	RoutineCount  int        `json:"routine_count"`
	LastTick      *time.Time `json:"last_tick,omitempty"`
}

// NewHealthServer creates the HTTP server without starting it.
func NewHealthServer(addr string, sp StatusProvider) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		status:    sp,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/status", hs.handleStatus)
	return hs
}

func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start listens in the background and returns once the port is open. The
// server shuts down when ctx is cancelled.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		h.Stop()
	}()
	return nil
}

// Stop shuts the server down. It is safe to call more than once.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	if h.status != nil {
		ctx := r.Context()
		if n, err := h.status.PlaybookCount(ctx); err == nil {
			resp.PlaybookCount = n
		} else {
			slog.Warn("status: playbook count", "err", err)
		}
		if n, err := h.status.RoutineCount(ctx); err == nil {
			resp.RoutineCount = n
		} else {
			slog.Warn("status: routine count", "err", err)
		}
		if t, err := h.status.LastTick(ctx); err == nil && !t.IsZero() {
			resp.LastTick = &t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
