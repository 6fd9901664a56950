package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/store"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// planContext reads the --entity, --ids, --brand and --region flags.
func planContext(cmd *Command) (plan.Context, error) {
	var c plan.Context
	if e := cmd.GetFlag("entity", ""); e != "" {
		et, err := vocab.ParseEntityType(e)
		if err != nil {
			return c, err
		}
		c.EntityType = et
	}
	if ids := cmd.GetFlag("ids", ""); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.SelectedIDs = append(c.SelectedIDs, id)
			}
		}
	}
	c.Brand = cmd.GetFlag("brand", "")
	c.Region = cmd.GetFlag("region", "")
	return c, nil
}

// FormatPlan renders p for review.
func FormatPlan(p plan.Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Plan:** %s\n", p.Description)
	fmt.Fprintf(&sb, "Action: %s (%s)\n", p.ExecutionAction, p.ActionIntent)
	fmt.Fprintf(&sb, "Entity: %s\n", p.EntityType)
	if !p.Filters.Empty() {
		fmt.Fprintf(&sb, "Filters: %s\n", p.Filters)
	}
	if len(p.SelectedIDs) > 0 {
		fmt.Fprintf(&sb, "Selected: %d\n", len(p.SelectedIDs))
	}
	if !p.Schedule.Empty() {
		fmt.Fprintf(&sb, "Schedule: %s %s\n", p.Schedule.Date, p.Schedule.Time)
	}
	if p.RequiresConfirmation {
		sb.WriteString("⚠️ Requires confirmation\n")
	}
	return sb.String()
}

// HandlePlan previews the plan for an instruction without executing it.
//
// Usage: /jimu plan <text> [--entity e] [--ids a,b] [--brand b] [--region r]
func (h *Handlers) HandlePlan(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	text := cmd.Text()
	if text == "" {
		return "", fmt.Errorf("usage: /jimu plan <text>")
	}
	pc, err := planContext(cmd)
	if err != nil {
		return "", err
	}

	p := h.engine.ParseAndPlan(text, pc)
	h.audit(ctx, "plan", string(p.EntityType), store.AuditPayload{"input": text, "description": p.Description}, nil)
	return FormatPlan(p) + fmt.Sprintf("\n(trace: %s)", traceID), nil
}

// HandleRun plans an instruction and executes it, holding it for approval
// when the plan requires confirmation.
//
// Usage: /jimu run <text> [--entity e] [--ids a,b] [--brand b] [--region r]
func (h *Handlers) HandleRun(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	text := cmd.Text()
	if text == "" {
		return "", fmt.Errorf("usage: /jimu run <text>")
	}
	pc, err := planContext(cmd)
	if err != nil {
		return "", err
	}
	return h.runInstruction(ctx, text, pc, evt)
}

// HandleFreeText treats a message without the command prefix as an
// instruction.
func (h *Handlers) HandleFreeText(ctx context.Context, text string, evt *event.Event) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	return h.runInstruction(ctx, text, plan.Context{}, evt)
}

func (h *Handlers) runInstruction(ctx context.Context, text string, pc plan.Context, evt *event.Event) (string, error) {
	ctx, traceID := begin(ctx, evt)
	p := h.engine.ParseAndPlan(text, pc)

	if p.RequiresConfirmation && h.approvals != nil {
		return h.holdPlan(ctx, p, evt)
	}
	return h.executePlan(ctx, p, traceID)
}

func (h *Handlers) executePlan(ctx context.Context, p plan.Plan, traceID string) (string, error) {
	res, err := h.engine.Execute(ctx, p)
	payload := store.AuditPayload{"input": p.InputText, "affected": len(res.AffectedIDs), "log_id": res.LogID}
	if err != nil {
		h.audit(ctx, "run", string(p.EntityType), payload, err)
		return "", fmt.Errorf("execution was not recorded: %w", err)
	}
	if !res.Success {
		h.audit(ctx, "run", string(p.EntityType), payload, errors.New(res.Message))
		return fmt.Sprintf("❌ %s\n%s\n(trace: %s)", p.Description, res.Message, traceID), nil
	}
	h.audit(ctx, "run", string(p.EntityType), payload, nil)
	return fmt.Sprintf("✅ %s\n%s\n(trace: %s)", p.Description, res.Message, traceID), nil
}
