package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

// approvedFlag marks a replayed command so the gate is not applied twice.
const approvedFlag = "_approved"

// DispatchFunc replays an approved command by its action key.
type DispatchFunc func(ctx context.Context, action string, cmd *Command, evt *event.Event) (string, error)

// holdPlan stores p as a pending approval instead of executing it.
func (h *Handlers) holdPlan(ctx context.Context, p plan.Plan, evt *event.Event) (string, error) {
	ap, err := h.approvals.RequestPlan(ctx, p, evt.Sender.String())
	if err != nil {
		h.audit(ctx, "run.approval_requested", string(p.EntityType), nil, err)
		return "", fmt.Errorf("failed to hold plan for confirmation: %w", err)
	}
	h.audit(ctx, "run.approval_requested", string(p.EntityType),
		store.AuditPayload{"approval_id": ap.ID, "input": p.InputText}, nil)
	h.notifier.Notify(ctx, audit.Event{
		Kind:    audit.KindApprovalRequested,
		Actor:   evt.Sender.String(),
		Target:  string(p.EntityType),
		Message: fmt.Sprintf("%s (approval %s)", p.Description, ap.ID),
	})
	return FormatPlan(p) + approvalPrompt(ctx, ap, evt.Sender.String()), nil
}

// requestApprovalIfNeeded holds a gated command. It returns needsApproval
// false when the action is not gated, no gate is configured, or cmd is an
// approved replay.
func (h *Handlers) requestApprovalIfNeeded(ctx context.Context, action, target string, cmd *Command, evt *event.Event) (msg string, needsApproval bool, err error) {
	if cmd.GetFlag(approvedFlag, "") == "true" || h.approvals == nil || !approvals.IsGated(action) {
		return "", false, nil
	}
	ap, err := h.approvals.Request(ctx, action, target, cmd.Args, cmd.Flags, evt.Sender.String())
	if err != nil {
		return "", true, fmt.Errorf("failed to create approval request: %w", err)
	}
	h.audit(ctx, action+".approval_requested", target, store.AuditPayload{"approval_id": ap.ID}, nil)
	h.notifier.Notify(ctx, audit.Event{
		Kind:    audit.KindApprovalRequested,
		Actor:   evt.Sender.String(),
		Target:  target,
		Message: fmt.Sprintf("%s (approval %s)", action, ap.ID),
	})
	return fmt.Sprintf("**%s** on **%s**\n", action, target) + approvalPrompt(ctx, ap, evt.Sender.String()), true, nil
}

func approvalPrompt(ctx context.Context, ap *approvals.Approval, requestor string) string {
	return fmt.Sprintf(
		"\n⏳ **Confirmation required.**\n"+
			"Approval ID: `%s`\n"+
			"Requestor:   %s\n"+
			"Expires:     %s\n\n"+
			"Reply with:\n"+
			"• `approve %s` to proceed\n"+
			"• `deny %s <reason>` to cancel\n\n"+
			"(trace: %s)",
		ap.ID, requestor, ap.ExpiresAt.Format(time.RFC3339), ap.ID, ap.ID, trace.FromContext(ctx),
	)
}

// HandleApprovalsList lists approvals, optionally filtered by status.
//
// Usage: /jimu approvals list [--status pending|approved|denied|expired|cancelled]
func (h *Handlers) HandleApprovalsList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	if h.approvals == nil {
		return "", fmt.Errorf("approval workflow is not configured")
	}
	if _, err := h.approvals.CheckExpiry(ctx); err != nil {
		slog.Warn("failed to expire stale approvals", "err", err)
	}

	status := approvals.Status(cmd.GetFlag("status", ""))
	list, err := h.approvals.Store().List(ctx, status)
	h.audit(ctx, "approvals.list", "", store.AuditPayload{"count": len(list), "status_filter": string(status)}, err)
	if err != nil {
		return "", fmt.Errorf("failed to list approvals: %w", err)
	}
	if len(list) == 0 {
		return fmt.Sprintf("No approvals found.\n\n(trace: %s)", traceID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Approvals** (%d)\n\n```\n", len(list))
	fmt.Fprintf(&sb, "%-14s %-10s %-18s %-12s %s\n", "ID", "STATUS", "ACTION", "TARGET", "EXPIRES/RESOLVED")
	for _, a := range list {
		when := "exp:" + a.ExpiresAt.Format("01-02 15:04")
		if a.ResolvedAt != nil {
			when = "res:" + a.ResolvedAt.Format("01-02 15:04")
		}
		fmt.Fprintf(&sb, "%-14s %-10s %-18s %-12s %s\n", a.ID, a.Status, a.Action, truncate(a.Target, 12), when)
	}
	fmt.Fprintf(&sb, "```\n(trace: %s)", traceID)
	return sb.String(), nil
}

// HandleApprovalDecision handles a bare "approve <id>" or "deny <id>
// <reason>" message. It returns approvals.ErrNotADecision for any other
// text so the caller can fall through to free-text planning.
//
// The requestor may approve their own request: a held plan is a
// confirmation step, not a four-eyes check.
func (h *Handlers) HandleApprovalDecision(ctx context.Context, text string, evt *event.Event) (string, error) {
	decision, err := approvals.ParseDecision(text)
	if err != nil {
		return "", err
	}
	if h.approvals == nil {
		return "", fmt.Errorf("approval workflow is not configured")
	}

	ctx, traceID := begin(ctx, evt)
	sender := evt.Sender.String()
	if _, err := h.approvals.CheckExpiry(ctx); err != nil {
		slog.Warn("failed to expire stale approvals", "err", err)
	}

	ap, err := h.approvals.Store().Get(ctx, decision.ApprovalID)
	if err != nil {
		return "", fmt.Errorf("approval not found: %s", decision.ApprovalID)
	}
	if ap.Status != approvals.StatusPending {
		return fmt.Sprintf("⚠️ Approval **%s** is already **%s**.\n\n(trace: %s)", ap.ID, ap.Status, traceID), nil
	}

	if !decision.Approve {
		err := h.approvals.Store().Deny(ctx, ap.ID, sender, decision.Reason)
		h.audit(ctx, "approval.deny", ap.ID,
			store.AuditPayload{"original_action": ap.Action, "target": ap.Target, "reason": decision.Reason}, err)
		if err != nil {
			return "", fmt.Errorf("failed to deny: %w", err)
		}
		h.notifier.Notify(ctx, audit.Event{Kind: audit.KindApprovalDenied, Actor: sender, Target: ap.Target,
			Message: fmt.Sprintf("%s denied: %s", ap.ID, decision.Reason)})
		return fmt.Sprintf("❌ Denied by **%s**. Reason: %s.\n\n(trace: %s)", sender, decision.Reason, traceID), nil
	}

	if err := h.approvals.Store().Approve(ctx, ap.ID, sender, decision.Reason); err != nil {
		h.audit(ctx, "approval.approve", ap.ID, nil, err)
		if errors.Is(err, approvals.ErrNotPending) {
			return fmt.Sprintf("⚠️ Approval **%s** expired before it was approved.\n\n(trace: %s)", ap.ID, traceID), nil
		}
		return "", fmt.Errorf("failed to approve: %w", err)
	}
	h.audit(ctx, "approval.approve", ap.ID, store.AuditPayload{"original_action": ap.Action, "target": ap.Target}, nil)
	h.notifier.Notify(ctx, audit.Event{Kind: audit.KindApprovalApproved, Actor: sender, Target: ap.Target, Message: ap.ID})

	result, err := h.executeApproved(ctx, ap, evt)
	if err != nil {
		return fmt.Sprintf("✅ Approved by **%s**, but execution failed: %s\n\n(trace: %s)", sender, err, traceID), nil
	}
	return fmt.Sprintf("✅ Approved by **%s**.\n\n%s", sender, result), nil
}

// executeApproved runs what ap was holding on behalf of its requestor.
func (h *Handlers) executeApproved(ctx context.Context, ap *approvals.Approval, approverEvt *event.Event) (string, error) {
	ctx = trace.WithActor(ctx, ap.Requestor)

	if ap.Action == approvals.ActionPlanExecute {
		p, err := approvals.DecodePlan(ap)
		if err != nil {
			return "", err
		}
		return h.executePlan(ctx, p, trace.FromContext(ctx))
	}

	if h.dispatch == nil {
		return "", fmt.Errorf("dispatch function not configured")
	}
	params, err := approvals.DecodeParams(ap.ParamsJSON)
	if err != nil {
		return "", err
	}
	params.Flags[approvedFlag] = "true"
	cmd := &Command{Args: params.Args, Flags: params.Flags}
	cmd.Name, cmd.Subcommand, _ = strings.Cut(ap.Action, ".")

	requestorEvt := *approverEvt
	requestorEvt.Sender = id.UserID(ap.Requestor)
	return h.dispatch(ctx, ap.Action, cmd, &requestorEvt)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
