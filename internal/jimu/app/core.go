package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Jimu/common/retry"
	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/compliance"
	"github.com/bdobrica/Jimu/internal/jimu/config"
	"github.com/bdobrica/Jimu/internal/jimu/dispatch"
	"github.com/bdobrica/Jimu/internal/jimu/engine"
	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
	"github.com/bdobrica/Jimu/internal/jimu/routines"
	"github.com/bdobrica/Jimu/internal/jimu/scopelock"
	"github.com/bdobrica/Jimu/internal/jimu/store"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// Core is the engine and its stores, shared by the chat bot and jimuctl.
type Core struct {
	Store     *store.Store
	Entities  *entities.SQLStore
	Engine    *engine.Engine
	Playbooks *playbooks.Store
	Runner    *playbooks.Runner
	Routines  *routines.Scheduler
	Approvals *approvals.Gate
	Config    config.Store
	Ticker    *Ticker

	locker scopelock.Locker
}

// NewCore builds the engine over st. Outcomes are announced to n.
func NewCore(cfg *Config, st *store.Store, n audit.Notifier) (*Core, error) {
	if n == nil {
		n = audit.Noop{}
	}

	v, err := vocab.Load(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}

	var validator compliance.Validator = compliance.Allow{}
	rules, err := compliance.LoadRules(cfg.ComplianceRulesPath)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		cv, err := compliance.NewCELValidator(rules)
		if err != nil {
			return nil, err
		}
		slog.Info("compliance rules loaded", "count", cv.Len(), "path", cfg.ComplianceRulesPath)
		validator = cv
	}

	locker, err := newLocker(cfg)
	if err != nil {
		return nil, err
	}

	es := entities.New(st)
	dispatcher := dispatch.New(st, es,
		dispatch.WithValidator(validator),
		dispatch.WithLocker(locker, cfg.LockTTL),
		dispatch.WithAnnouncer(dispatch.NotifierAnnouncer{Notifier: n}),
	)
	eng := engine.New(v, dispatcher)
	pbs := playbooks.NewStore(st.DB())
	runner := playbooks.NewRunner(pbs, eng)
	sched := routines.NewScheduler(st.DB(), pbs, runner, es, routines.WithNotifier(n))
	gate := approvals.NewGate(approvals.NewStore(st.DB()), cfg.ApprovalTTL)
	cs := config.New(st)

	return &Core{
		Store:     st,
		Entities:  es,
		Engine:    eng,
		Playbooks: pbs,
		Runner:    runner,
		Routines:  sched,
		Approvals: gate,
		Config:    cs,
		Ticker:    NewTicker(sched, gate, cs),
		locker:    locker,
	}, nil
}

// newLocker returns a Redis scope lock when REDIS_ADDR is set. Without it
// executions are not serialised.
func newLocker(cfg *Config) (scopelock.Locker, error) {
	if cfg.RedisAddr == "" {
		return scopelock.None{}, nil
	}
	rl := scopelock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rc := retry.DefaultConfig
	rc.Op = "redis ping"
	if err := retry.Do(ctx, rc, rl.Ping); err != nil {
		rl.Close()
		return nil, fmt.Errorf("scope lock: %w", err)
	}
	slog.Info("scope lock backed by redis", "addr", cfg.RedisAddr)
	return rl, nil
}

// Close releases the lock backend. The store is closed by its owner.
func (c *Core) Close() {
	if rl, ok := c.locker.(*scopelock.RedisLocker); ok {
		if err := rl.Close(); err != nil {
			slog.Warn("failed to close redis", "err", err)
		}
	}
}

// PlaybookCount implements StatusProvider.
func (c *Core) PlaybookCount(ctx context.Context) (int, error) { return c.Playbooks.Count(ctx) }

// RoutineCount implements StatusProvider.
func (c *Core) RoutineCount(ctx context.Context) (int, error) { return c.Routines.Count(ctx) }

// LastTick implements StatusProvider.
func (c *Core) LastTick(ctx context.Context) (time.Time, error) {
	return config.GetTime(ctx, c.Config, config.KeyLastTick)
}
