package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/internal/jimu/config"
	"github.com/bdobrica/Jimu/internal/jimu/observability"
)

// DueRunner runs the routines whose next run time has passed.
type DueRunner interface {
	RunDue(ctx context.Context) (int, error)
}

// Expirer expires stale pending approvals.
type Expirer interface {
	CheckExpiry(ctx context.Context) (int64, error)
}

// TickResult reports what one tick did.
type TickResult struct {
	Paused   bool
	Ran      int
	Expired  int64
	TickedAt time.Time
}

// Ticker drives the routine scheduler. Each tick expires stale approvals,
// runs due routines unless scheduler.paused is set, and records
// scheduler.last_tick.
type Ticker struct {
	routines DueRunner
	expirer  Expirer
	config   config.Store
	now      func() time.Time
}

// NewTicker creates a Ticker. expirer may be nil.
func NewTicker(routines DueRunner, expirer Expirer, cs config.Store) *Ticker {
	return &Ticker{routines: routines, expirer: expirer, config: cs, now: time.Now}
}

// Tick runs once as the system actor.
func (t *Ticker) Tick(ctx context.Context) (TickResult, error) {
	ctx = trace.WithActor(ctx, trace.SystemActor)
	ctx, _ = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx)
	res := TickResult{TickedAt: t.now()}

	if t.expirer != nil {
		n, err := t.expirer.CheckExpiry(ctx)
		if err != nil {
			logger.Warn("failed to expire stale approvals", "err", err)
		}
		res.Expired = n
	}

	paused, err := config.GetBool(ctx, t.config, config.KeySchedulerPaused)
	if err != nil {
		logger.Warn("unreadable scheduler.paused, treating as running", "err", err)
	}
	res.Paused = paused

	if !paused {
		res.Ran, err = t.routines.RunDue(ctx)
		if err != nil {
			return res, err
		}
	}

	if err := config.SetTime(ctx, t.config, config.KeyLastTick, res.TickedAt); err != nil {
		return res, err
	}
	if res.Ran > 0 || res.Expired > 0 {
		logger.Info("scheduler tick", "ran", res.Ran, "expired_approvals", res.Expired)
	}
	return res, nil
}

// Run ticks every interval until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Tick(ctx); err != nil && ctx.Err() == nil {
				slog.Error("scheduler tick failed", "err", err)
			}
		}
	}
}
