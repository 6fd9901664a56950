package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/routines"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

// HandleRoutinesList lists routines.
//
// Usage: /jimu routines list [--mine]
func (h *Handlers) HandleRoutinesList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	owner := ""
	if cmd.HasFlag("mine") {
		owner = evt.Sender.String()
	}

	list, err := h.routines.List(ctx, owner)
	h.audit(ctx, "routines.list", "", store.AuditPayload{"count": len(list)}, err)
	if err != nil {
		return "", fmt.Errorf("failed to list routines: %w", err)
	}
	if len(list) == 0 {
		return fmt.Sprintf("No routines scheduled. (trace: %s)", traceID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Routines (%d)**\n\n", len(list))
	for _, r := range list {
		fmt.Fprintf(&sb, "%s\n", formatRoutine(r))
	}
	fmt.Fprintf(&sb, "\n(trace: %s)", traceID)
	return sb.String(), nil
}

func formatRoutine(r *routines.Routine) string {
	state := "⏸️"
	if r.Active {
		state = "▶️"
	}
	freq := string(r.Frequency)
	if r.CronExpr != "" {
		freq += " (" + r.CronExpr + ")"
	}
	last := "never"
	if r.LastRunAt != nil {
		last = formatTime(*r.LastRunAt)
	}
	s := fmt.Sprintf("%s `%s` playbook `%s`, %s, next %s, last %s", state, r.ID, r.PlaybookID, freq, formatTime(r.NextRunAt), last)
	if r.NotifyOwner {
		s += ", notifies " + r.Owner
	}
	return s
}

// HandleRoutinesCreate schedules a playbook.
//
// Usage: /jimu routines create <playbook-id> --frequency daily|weekly|monthly|custom [--cron "<expr>"] [--notify]
func (h *Handlers) HandleRoutinesCreate(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	playbookID, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu routines create <playbook-id> --frequency daily|weekly|monthly|custom [--cron \"<expr>\"] [--notify]")
	}
	freq, err := routines.ParseFrequency(cmd.GetFlag("frequency", string(routines.FrequencyWeekly)))
	if err != nil {
		return "", err
	}

	r, err := h.routines.Create(ctx, routines.CreateParams{
		PlaybookID:  playbookID,
		Owner:       evt.Sender.String(),
		Frequency:   freq,
		CronExpr:    cmd.GetFlag("cron", ""),
		NotifyOwner: cmd.HasFlag("notify"),
	})
	target := playbookID
	if r != nil {
		target = r.ID
	}
	h.audit(ctx, "routines.create", target, store.AuditPayload{"playbook_id": playbookID, "frequency": string(freq)}, err)
	if err != nil {
		return "", fmt.Errorf("failed to create routine: %w", err)
	}
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindRoutineChanged, Actor: evt.Sender.String(),
		Target: r.PlaybookID, Message: fmt.Sprintf("routine %s created (%s)", r.ID, r.Frequency)})
	return fmt.Sprintf("✓ Routine created.\n%s\n(trace: %s)", formatRoutine(r), traceID), nil
}

// HandleRoutinesUpdate edits a routine.
//
// Usage: /jimu routines update <id> [--frequency f] [--cron "<expr>"] [--active true|false] [--notify true|false]
func (h *Handlers) HandleRoutinesUpdate(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu routines update <id> [--frequency f] [--cron \"<expr>\"] [--active true|false] [--notify true|false]")
	}

	var p routines.UpdateParams
	if v, ok := cmd.Flags["frequency"]; ok {
		f, err := routines.ParseFrequency(v)
		if err != nil {
			return "", err
		}
		p.Frequency = &f
	}
	if v, ok := cmd.Flags["cron"]; ok {
		p.CronExpr = &v
	}
	for flag, dst := range map[string]**bool{"active": &p.Active, "notify": &p.NotifyOwner} {
		v, ok := cmd.Flags[flag]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", fmt.Errorf("--%s: %q is not true or false", flag, v)
		}
		*dst = &b
	}

	r, err := h.routines.Update(ctx, id, p)
	h.audit(ctx, "routines.update", id, store.AuditPayload{"flags": cmd.Flags}, err)
	if err != nil {
		return "", fmt.Errorf("failed to update routine: %w", err)
	}
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindRoutineChanged, Actor: evt.Sender.String(),
		Target: r.PlaybookID, Message: fmt.Sprintf("routine %s updated", r.ID)})
	return fmt.Sprintf("✓ Routine updated.\n%s\n(trace: %s)", formatRoutine(r), traceID), nil
}

// HandleRoutinesDelete removes a routine once approved. Its logs are kept.
//
// Usage: /jimu routines delete <id>
func (h *Handlers) HandleRoutinesDelete(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu routines delete <id>")
	}
	if _, err := h.routines.Get(ctx, id); err != nil {
		return "", err
	}
	if msg, held, err := h.requestApprovalIfNeeded(ctx, approvals.ActionRoutineDelete, id, cmd, evt); held || err != nil {
		return msg, err
	}

	err := h.routines.Delete(ctx, id)
	h.audit(ctx, "routines.delete", id, nil, err)
	if err != nil {
		return "", fmt.Errorf("failed to delete routine: %w", err)
	}
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindRoutineChanged, Actor: evt.Sender.String(),
		Target: id, Message: "routine deleted"})
	return fmt.Sprintf("🗑️ Routine `%s` deleted. (trace: %s)", id, traceID), nil
}

// HandleRoutinesRun runs a routine now, active or not.
//
// Usage: /jimu routines run <id>
func (h *Handlers) HandleRoutinesRun(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu routines run <id>")
	}

	entry, err := h.routines.RunNow(ctx, id)
	if err != nil {
		h.audit(ctx, "routines.run", id, nil, err)
		return "", fmt.Errorf("failed to run routine: %w", err)
	}
	h.audit(ctx, "routines.run", id, store.AuditPayload{"status": string(entry.Status), "affected": entry.TotalAffected}, nil)
	return formatRoutineLog(entry) + fmt.Sprintf("\n(trace: %s)", traceID), nil
}

// HandleRoutinesLogs shows recent runs of a routine.
//
// Usage: /jimu routines logs <id> [n]
func (h *Handlers) HandleRoutinesLogs(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu routines logs <id> [n]")
	}
	limit := defaultTail
	if s, ok := cmd.GetArg(1); ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := h.routines.Logs(ctx, id, limit)
	h.audit(ctx, "routines.logs", id, store.AuditPayload{"count": len(logs)}, err)
	if err != nil {
		return "", fmt.Errorf("failed to read routine logs: %w", err)
	}
	if len(logs) == 0 {
		return fmt.Sprintf("Routine `%s` has not run yet. (trace: %s)", id, traceID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Runs of %s** (%d)\n\n", id, len(logs))
	for _, l := range logs {
		sb.WriteString(formatRoutineLog(l))
	}
	fmt.Fprintf(&sb, "\n(trace: %s)", traceID)
	return sb.String(), nil
}

func formatRoutineLog(l *routines.Log) string {
	icon := "✅"
	if l.Status != routines.LogSuccess {
		icon = "❌"
	}
	s := fmt.Sprintf("%s %s %s, %d records, %d steps\n", icon, formatTime(l.RunAt), l.Status, l.TotalAffected, len(l.StepResults))
	if l.ErrorMessage != "" {
		s += "   " + l.ErrorMessage + "\n"
	}
	return s
}
