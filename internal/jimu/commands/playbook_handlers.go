package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

// parseSteps reads steps from the --steps flag ("a; b; c") or, when the
// flag is absent, from the message body, one step per line. A leading
// "1." or "-" on a body line is dropped. Step numbers listed in --confirm
// ("2,3") are flagged as requiring confirmation.
func parseSteps(cmd *Command) ([]playbooks.Step, error) {
	var texts []string
	if raw := cmd.GetFlag("steps", ""); raw != "" {
		for _, s := range strings.Split(raw, ";") {
			if s = strings.TrimSpace(s); s != "" {
				texts = append(texts, s)
			}
		}
	} else {
		for _, line := range strings.Split(cmd.Body, "\n") {
			if line = stripBullet(line); line != "" {
				texts = append(texts, line)
			}
		}
	}

	steps := make([]playbooks.Step, len(texts))
	for i, t := range texts {
		steps[i] = playbooks.Step{InputText: t}
	}

	if raw := cmd.GetFlag("confirm", ""); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || n < 1 || n > len(steps) {
				return nil, fmt.Errorf("--confirm: %q is not a step number", s)
			}
			steps[n-1].RequiresConfirmation = true
		}
	}
	return steps, nil
}

func stripBullet(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "- ")
	if dot := strings.Index(line, ". "); dot > 0 {
		if _, err := strconv.Atoi(line[:dot]); err == nil {
			line = line[dot+2:]
		}
	}
	return strings.TrimSpace(line)
}

// HandlePlaybooksList lists playbooks.
//
// Usage: /jimu playbooks list [--mine]
func (h *Handlers) HandlePlaybooksList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	owner := ""
	if cmd.HasFlag("mine") {
		owner = evt.Sender.String()
	}

	list, err := h.playbooks.List(ctx, owner)
	h.audit(ctx, "playbooks.list", "", store.AuditPayload{"count": len(list)}, err)
	if err != nil {
		return "", fmt.Errorf("failed to list playbooks: %w", err)
	}
	if len(list) == 0 {
		return fmt.Sprintf("No playbooks yet. Create one with /jimu playbooks create. (trace: %s)", traceID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Playbooks (%d)**\n\n", len(list))
	for _, p := range list {
		fmt.Fprintf(&sb, "📘 **%s** `%s` (%d steps, owner %s)\n", p.Title, p.ID, len(p.Steps), p.Owner)
	}
	fmt.Fprintf(&sb, "\n(trace: %s)", traceID)
	return sb.String(), nil
}

// HandlePlaybooksShow shows one playbook.
//
// Usage: /jimu playbooks show <id>
func (h *Handlers) HandlePlaybooksShow(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu playbooks show <id>")
	}
	p, err := h.playbooks.Get(ctx, id)
	h.audit(ctx, "playbooks.show", id, nil, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("```\n%s```\n(trace: %s)", p.Format(), traceID), nil
}

// HandlePlaybooksCreate stores a new playbook owned by the sender.
//
// Usage: /jimu playbooks create "<title>" --steps "a; b" [--description d] [--confirm 2,3]
func (h *Handlers) HandlePlaybooksCreate(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	title := strings.Join(cmd.Args, " ")
	if title == "" {
		return "", fmt.Errorf(`usage: /jimu playbooks create "<title>" --steps "step one; step two"`)
	}
	steps, err := parseSteps(cmd)
	if err != nil {
		return "", err
	}

	p, err := h.playbooks.Create(ctx, evt.Sender.String(), title, cmd.GetFlag("description", ""), steps)
	target := title
	if p != nil {
		target = p.ID
	}
	h.audit(ctx, "playbooks.create", target, store.AuditPayload{"title": title, "steps": len(steps)}, err)
	if err != nil {
		return "", fmt.Errorf("failed to create playbook: %w", err)
	}
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindPlaybookChanged, Actor: evt.Sender.String(),
		Target: p.Title, Message: fmt.Sprintf("created with %d steps", len(p.Steps))})
	return fmt.Sprintf("✓ Playbook **%s** created: `%s`\n\n```\n%s```\n(trace: %s)", p.Title, p.ID, p.Format(), traceID), nil
}

// HandlePlaybooksUpdate edits a playbook and shows the step diff.
//
// Usage: /jimu playbooks update <id> [--title t] [--description d] [--steps "a; b"] [--confirm n,m]
func (h *Handlers) HandlePlaybooksUpdate(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu playbooks update <id> [--title t] [--description d] [--steps \"a; b\"]")
	}

	var patch playbooks.Patch
	if t, ok := cmd.Flags["title"]; ok {
		patch.Title = &t
	}
	if d, ok := cmd.Flags["description"]; ok {
		patch.Description = &d
	}
	if cmd.HasFlag("steps") || cmd.Body != "" {
		steps, err := parseSteps(cmd)
		if err != nil {
			return "", err
		}
		patch.Steps = steps
	}

	p, diff, err := h.playbooks.Update(ctx, id, patch)
	h.audit(ctx, "playbooks.update", id, store.AuditPayload{"diff": diff}, err)
	if err != nil {
		return "", fmt.Errorf("failed to update playbook: %w", err)
	}
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindPlaybookChanged, Actor: evt.Sender.String(),
		Target: p.Title, Message: "updated"})

	if diff == "" {
		return fmt.Sprintf("✓ Playbook **%s** updated (steps unchanged). (trace: %s)", p.Title, traceID), nil
	}
	return fmt.Sprintf("✓ Playbook **%s** updated.\n\n```diff\n%s```\n(trace: %s)", p.Title, diff, traceID), nil
}

// HandlePlaybooksDelete removes a playbook once approved. Routines that
// reference it stay and fail on their next run.
//
// Usage: /jimu playbooks delete <id>
func (h *Handlers) HandlePlaybooksDelete(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu playbooks delete <id>")
	}
	if _, err := h.playbooks.Get(ctx, id); err != nil {
		return "", err
	}
	if msg, held, err := h.requestApprovalIfNeeded(ctx, approvals.ActionPlaybookDelete, id, cmd, evt); held || err != nil {
		return msg, err
	}

	err := h.playbooks.Delete(ctx, id)
	h.audit(ctx, "playbooks.delete", id, nil, err)
	if err != nil {
		return "", fmt.Errorf("failed to delete playbook: %w", err)
	}
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindPlaybookChanged, Actor: evt.Sender.String(),
		Target: id, Message: "deleted"})
	return fmt.Sprintf("🗑️ Playbook `%s` deleted. (trace: %s)", id, traceID), nil
}

// HandlePlaybooksRun runs a playbook now. Steps flagged for confirmation
// are skipped unless --yes is given.
//
// Usage: /jimu playbooks run <id> [--yes]
func (h *Handlers) HandlePlaybooksRun(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu playbooks run <id> [--yes]")
	}

	res, err := h.runner.Run(ctx, playbooks.FromPlaybook(id), playbooks.RunOptions{SkipConfirmation: cmd.HasFlag("yes")})
	if err != nil {
		h.audit(ctx, "playbooks.run", id, nil, err)
		return "", fmt.Errorf("failed to run playbook: %w", err)
	}
	h.audit(ctx, "playbooks.run", id, store.AuditPayload{"success": res.Success, "affected": res.TotalAffected}, nil)
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindPlaybookRun, Actor: evt.Sender.String(),
		Target: id, Message: res.Summary()})
	return FormatRun(res) + fmt.Sprintf("\n(trace: %s)", traceID), nil
}

// FormatRun renders a playbook run step by step.
func FormatRun(res *playbooks.RunResult) string {
	var sb strings.Builder
	icon := "✅"
	if !res.Success {
		icon = "⚠️"
	}
	fmt.Fprintf(&sb, "%s %s\n\n", icon, res.Summary())
	for _, s := range res.Steps {
		mark := "✓"
		switch {
		case s.Skipped:
			mark = "⏭"
		case !s.Success:
			mark = "✗"
		}
		fmt.Fprintf(&sb, "%s %d. %s: %s\n", mark, s.Index, s.InputText, s.Message)
	}
	return sb.String()
}

// HandlePlaybooksImport stores the YAML document in the message body as a
// new playbook owned by the sender.
//
// Usage: /jimu playbooks import, followed by the document on the next lines
func (h *Handlers) HandlePlaybooksImport(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	body := strings.TrimSpace(strings.Trim(strings.TrimSpace(cmd.Body), "`"))
	body = strings.TrimPrefix(body, "yaml\n")
	if body == "" {
		return "", fmt.Errorf("usage: /jimu playbooks import, with the YAML document on the following lines")
	}

	p, err := h.playbooks.Import(ctx, evt.Sender.String(), []byte(body))
	target := ""
	if p != nil {
		target = p.ID
	}
	h.audit(ctx, "playbooks.import", target, nil, err)
	if err != nil {
		return "", fmt.Errorf("failed to import playbook: %w", err)
	}
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindPlaybookChanged, Actor: evt.Sender.String(),
		Target: p.Title, Message: "imported"})
	return fmt.Sprintf("✓ Imported **%s** as `%s` (%d steps). (trace: %s)", p.Title, p.ID, len(p.Steps), traceID), nil
}

// HandlePlaybooksExport prints a playbook as a YAML document.
//
// Usage: /jimu playbooks export <id>
func (h *Handlers) HandlePlaybooksExport(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, _ = begin(ctx, evt)
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /jimu playbooks export <id>")
	}
	data, err := h.playbooks.Export(ctx, id)
	h.audit(ctx, "playbooks.export", id, nil, err)
	if err != nil {
		return "", err
	}
	return "```yaml\n" + string(data) + "```", nil
}
