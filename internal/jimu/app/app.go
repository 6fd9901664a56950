// Package app wires the Jimu chat bot: configuration, the engine, the
// Matrix client, the routine ticker and the health server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/commands"
	"github.com/bdobrica/Jimu/internal/jimu/matrix"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

// App is the running bot.
type App struct {
	config       *Config
	store        *store.Store
	core         *Core
	matrix       *matrix.Client
	router       *commands.Router
	handlers     *commands.Handlers
	healthServer *HealthServer
}

// New opens the database and builds every component. Nothing talks to the
// network until Run.
func New(cfg *Config) (*App, error) {
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	mcfg := cfg.matrixConfig()
	mcfg.DB = st.DB()
	mc, err := matrix.New(mcfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	var notifier audit.Notifier = audit.Noop{}
	if cfg.AuditRoomID != "" {
		notifier = audit.NewMatrixNotifier(mc, cfg.AuditRoomID)
		slog.Info("audit notices enabled", "room", cfg.AuditRoomID)
	}

	core, err := NewCore(cfg, st, notifier)
	if err != nil {
		st.Close()
		return nil, err
	}

	handlers := commands.NewHandlers(commands.HandlersConfig{
		Store:     st,
		Engine:    core.Engine,
		Playbooks: core.Playbooks,
		Runner:    core.Runner,
		Routines:  core.Routines,
		Approvals: core.Approvals,
		Config:    core.Config,
		Notifier:  notifier,
	})
	router := commands.NewRouter(commands.Prefix)
	handlers.Register(router)
	handlers.SetDispatch(router.Dispatch)

	var hs *HealthServer
	if cfg.HTTPAddr != "" {
		hs = NewHealthServer(cfg.HTTPAddr, core)
	}

	return &App{
		config:       cfg,
		store:        st,
		core:         core,
		matrix:       mc,
		router:       router,
		handlers:     handlers,
		healthServer: hs,
	}, nil
}

// Run starts the bot and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	go a.core.Ticker.Run(ctx, a.config.TickInterval)

	for _, roomID := range a.config.MatrixAdminRooms {
		if err := a.matrix.SendNotice(roomID, "✅ Jimu started. Type /jimu help for commands."); err != nil {
			slog.Warn("failed to announce startup", "room", roomID, "err", err)
		}
	}

	slog.Info("Jimu is running; press Ctrl+C to stop", "tick_interval", a.config.TickInterval)
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop releases every resource New acquired.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.healthServer != nil {
		a.healthServer.Stop()
	}
	a.core.Close()

	slog.Info("closing database")
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close database", "err", err)
	}
}

func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	if msg == nil {
		return
	}
	if len(a.config.AdminSenders) > 0 && !slices.Contains(a.config.AdminSenders, evt.Sender.String()) {
		return
	}

	resp, err := a.respond(ctx, msg.Body, evt)
	roomID, eventID := evt.RoomID.String(), evt.ID.String()
	if err != nil {
		if err := a.matrix.Reply(roomID, eventID, fmt.Sprintf("❌ Error: %s", err)); err != nil {
			slog.Error("failed to send error reply", "room", roomID, "err", err)
		}
		return
	}
	if resp == "" {
		return
	}
	if err := a.matrix.SendMarkdown(roomID, resp); err != nil {
		slog.Error("failed to send response", "room", roomID, "err", err)
	}
}

// respond routes one message: a /jimu command, then an approval decision,
// then a free-form instruction.
func (a *App) respond(ctx context.Context, text string, evt *event.Event) (string, error) {
	resp, err := a.router.Route(ctx, text, evt)
	if !errors.Is(err, commands.ErrNotACommand) {
		return resp, err
	}

	resp, err = a.handlers.HandleApprovalDecision(ctx, text, evt)
	if !errors.Is(err, approvals.ErrNotADecision) {
		return resp, err
	}

	return a.handlers.HandleFreeText(ctx, text, evt)
}
