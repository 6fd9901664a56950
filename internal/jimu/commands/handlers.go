package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/common/version"
	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/config"
	"github.com/bdobrica/Jimu/internal/jimu/engine"
	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
	"github.com/bdobrica/Jimu/internal/jimu/routines"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

const defaultTail = 10

// HandlersConfig holds the dependencies of Handlers. Approvals and Config
// may be nil; the commands that need them then report that they are not
// configured.
type HandlersConfig struct {
	Store     *store.Store
	Engine    *engine.Engine
	Playbooks *playbooks.Store
	Runner    *playbooks.Runner
	Routines  *routines.Scheduler
	Approvals *approvals.Gate
	Config    config.Store
	Notifier  audit.Notifier
	// Dispatch replays approved commands. app wires it to Router.Dispatch.
	Dispatch DispatchFunc
}

// Handlers implements every /jimu command.
type Handlers struct {
	store     *store.Store
	engine    *engine.Engine
	playbooks *playbooks.Store
	runner    *playbooks.Runner
	routines  *routines.Scheduler
	approvals *approvals.Gate
	config    config.Store
	notifier  audit.Notifier
	dispatch  DispatchFunc
}

// NewHandlers creates Handlers from cfg.
func NewHandlers(cfg HandlersConfig) *Handlers {
	n := cfg.Notifier
	if n == nil {
		n = audit.Noop{}
	}
	return &Handlers{
		store:     cfg.Store,
		engine:    cfg.Engine,
		playbooks: cfg.Playbooks,
		runner:    cfg.Runner,
		routines:  cfg.Routines,
		approvals: cfg.Approvals,
		config:    cfg.Config,
		notifier:  n,
		dispatch:  cfg.Dispatch,
	}
}

// SetDispatch installs the replay callback after the router exists.
func (h *Handlers) SetDispatch(fn DispatchFunc) {
	h.dispatch = fn
}

// Register installs every handler on r.
func (h *Handlers) Register(r *Router) {
	r.Register("help", h.HandleHelp)
	r.Register("version", h.HandleVersion)
	r.Register("plan", h.HandlePlan)
	r.Register("run", h.HandleRun)

	r.Register("playbooks.list", h.HandlePlaybooksList)
	r.Register("playbooks.show", h.HandlePlaybooksShow)
	r.Register("playbooks.create", h.HandlePlaybooksCreate)
	r.Register("playbooks.update", h.HandlePlaybooksUpdate)
	r.Register("playbooks.delete", h.HandlePlaybooksDelete)
	r.Register("playbooks.run", h.HandlePlaybooksRun)
	r.Register("playbooks.import", h.HandlePlaybooksImport)
	r.Register("playbooks.export", h.HandlePlaybooksExport)

	r.Register("routines.list", h.HandleRoutinesList)
	r.Register("routines.create", h.HandleRoutinesCreate)
	r.Register("routines.update", h.HandleRoutinesUpdate)
	r.Register("routines.delete", h.HandleRoutinesDelete)
	r.Register("routines.run", h.HandleRoutinesRun)
	r.Register("routines.logs", h.HandleRoutinesLogs)

	r.Register("audit.tail", h.HandleAuditTail)
	r.Register("logs.tail", h.HandleLogsTail)
	r.Register("logs.trace", h.HandleLogsTrace)
	r.Register("approvals.list", h.HandleApprovalsList)
	r.Register("config.set", h.HandleConfigSet)
	r.Register("config.get", h.HandleConfigGet)
}

// begin attaches the sender and a trace ID to ctx. A trace ID already in
// ctx (an approved replay) is kept.
func begin(ctx context.Context, evt *event.Event) (context.Context, string) {
	ctx = trace.WithActor(ctx, evt.Sender.String())
	return trace.Ensure(ctx)
}

// audit records one operator action. Failures are logged and swallowed so
// a broken audit table never hides the command's own result.
func (h *Handlers) audit(ctx context.Context, action, target string, payload store.AuditPayload, opErr error) {
	result, msg := "success", ""
	if opErr != nil {
		result, msg = "error", opErr.Error()
	}
	if err := h.store.WriteAudit(ctx, trace.FromContext(ctx), trace.ActorFromContext(ctx),
		action, target, result, payload, msg); err != nil {
		slog.Warn("audit write failed", "op", action, "err", err)
	}
}

// HandleHelp lists the commands.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return `**Jimu automation**

**General**
• /jimu help
• /jimu version
• /jimu plan <text> [--entity e] [--ids a,b] [--brand b] [--region r] - preview a plan
• /jimu run <text> [same flags] - plan and execute
• Any other message in this room is planned and executed the same way.

**Playbooks**
• /jimu playbooks list [--mine]
• /jimu playbooks show <id>
• /jimu playbooks create "<title>" --steps "step one; step two" [--description d] [--confirm 2,3]
• /jimu playbooks update <id> [--title t] [--description d] [--steps "..."]
• /jimu playbooks delete <id> (needs approval)
• /jimu playbooks run <id> [--yes]
• /jimu playbooks import (YAML document on the following lines)
• /jimu playbooks export <id>

**Routines**
• /jimu routines list [--mine]
• /jimu routines create <playbook-id> --frequency daily|weekly|monthly|custom [--cron "0 8 * * 1"] [--notify]
• /jimu routines update <id> [--frequency f] [--cron c] [--active true|false] [--notify true|false]
• /jimu routines delete <id> (needs approval)
• /jimu routines run <id>
• /jimu routines logs <id> [n]

**Audit**
• /jimu audit tail [n]
• /jimu logs tail [n]
• /jimu logs trace <trace_id>
• /jimu approvals list [--status pending]
• /jimu config get|set <key> [value]
• approve <id> | deny <id> <reason>
`, nil
}

// HandleVersion shows build information.
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return fmt.Sprintf("**Jimu**\nVersion: %s\nCommit: %s\nBuild Time: %s",
		version.Version, version.GitCommit, version.BuildTime), nil
}

// HandleAuditTail shows the newest operator audit entries.
//
// Usage: /jimu audit tail [n]
func (h *Handlers) HandleAuditTail(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	n := tailCount(cmd)

	entries, err := h.store.GetAuditLog(ctx, n)
	if err != nil {
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No audit entries. (trace: %s)", traceID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Audit log (last %d)**\n\n", len(entries))
	for _, e := range entries {
		icon := "✅"
		if e.Result != "success" {
			icon = "❌"
		}
		fmt.Fprintf(&sb, "%s %s %s", icon, e.Timestamp.Format("2006-01-02 15:04:05"), e.Action)
		if e.Target.Valid && e.Target.String != "" {
			fmt.Fprintf(&sb, " → %s", e.Target.String)
		}
		fmt.Fprintf(&sb, " by %s\n", e.Actor)
		if e.ErrorMessage.Valid && e.ErrorMessage.String != "" {
			fmt.Fprintf(&sb, "   error: %s\n", e.ErrorMessage.String)
		}
	}
	fmt.Fprintf(&sb, "\n(trace: %s)", traceID)
	return sb.String(), nil
}

// HandleLogsTail shows the newest automation log entries.
//
// Usage: /jimu logs tail [n]
func (h *Handlers) HandleLogsTail(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	entries, err := h.store.ListAutomation(ctx, tailCount(cmd))
	if err != nil {
		return "", fmt.Errorf("failed to read automation log: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No automation runs yet. (trace: %s)", traceID), nil
	}
	return formatAutomation("Automation log", entries) + fmt.Sprintf("\n(trace: %s)", traceID), nil
}

// HandleLogsTrace shows the automation entries written under one trace.
//
// Usage: /jimu logs trace <trace_id>
func (h *Handlers) HandleLogsTrace(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, _ = begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu logs trace <trace_id>")
	}
	entries, err := h.store.AutomationByTrace(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to read automation log: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No automation runs for trace %s.", id), nil
	}
	return formatAutomation("Trace "+id, entries), nil
}

func formatAutomation(title string, entries []*store.AutomationLog) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** (%d)\n\n", title, len(entries))
	for _, e := range entries {
		icon := "⏳"
		switch e.Status {
		case store.AutomationExecuted:
			icon = "✅"
		case store.AutomationError:
			icon = "❌"
		}
		fmt.Fprintf(&sb, "%s %s %s: %q (%d ids)\n", icon, e.CreatedAt.Format("2006-01-02 15:04"),
			e.EntityType, e.InputText, len(e.EntityIDs))
		if e.ErrorMessage != "" {
			fmt.Fprintf(&sb, "   %s\n", e.ErrorMessage)
		}
	}
	return sb.String()
}

// HandleConfigSet stores an operator knob.
//
// Usage: /jimu config set <key> <value>
func (h *Handlers) HandleConfigSet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	if h.config == nil {
		return "", fmt.Errorf("config store is not available")
	}
	if len(cmd.Args) < 2 {
		return "", fmt.Errorf("usage: /jimu config set <key> <value>\n\nPermitted keys: %s", strings.Join(config.OperatorKeys, ", "))
	}
	key, value := cmd.Args[0], cmd.Args[1]
	if !config.IsOperatorKey(key) {
		return "", fmt.Errorf("unknown config key %q, permitted keys: %s", key, strings.Join(config.OperatorKeys, ", "))
	}

	err := h.config.Set(ctx, key, value)
	h.audit(ctx, "config.set", key, store.AuditPayload{"value": value}, err)
	if err != nil {
		return "", fmt.Errorf("failed to set config: %w", err)
	}
	return fmt.Sprintf("✓ `%s` set to `%s`. (trace: %s)", key, value, traceID), nil
}

// HandleConfigGet reads a config key. Read-only keys such as
// scheduler.last_tick may be read too.
//
// Usage: /jimu config get <key>
func (h *Handlers) HandleConfigGet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	if h.config == nil {
		return "", fmt.Errorf("config store is not available")
	}
	key, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu config get <key>")
	}

	value, err := h.config.Get(ctx, key)
	if errors.Is(err, config.ErrNotFound) {
		h.audit(ctx, "config.get", key, store.AuditPayload{"found": false}, nil)
		return fmt.Sprintf("`%s`: (not set) (trace: %s)", key, traceID), nil
	}
	h.audit(ctx, "config.get", key, nil, err)
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return fmt.Sprintf("`%s` = `%s` (trace: %s)", key, value, traceID), nil
}

// tailCount reads the optional count argument of the tail commands.
func tailCount(cmd *Command) int {
	if s, ok := cmd.GetArg(0); ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return min(n, 200)
		}
	}
	return defaultTail
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
