package playbooks

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/internal/jimu/dispatch"
	"github.com/bdobrica/Jimu/internal/jimu/observability"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// SkippedMessage is recorded for confirmation-flagged steps run without
// SkipConfirmation.
const SkippedMessage = "Skipped - requires confirmation"

var tracer = otel.Tracer("github.com/bdobrica/Jimu/internal/jimu/playbooks")

// Engine is the part of engine.Engine the runner needs.
type Engine interface {
	ParseAndPlan(text string, c plan.Context) plan.Plan
	ExecuteSilently(ctx context.Context, p plan.Plan) (dispatch.Result, error)
}

// Source selects what to run: a stored playbook or an explicit step list.
type Source struct {
	PlaybookID string
	Steps      []Step
}

// FromPlaybook runs the stored playbook id.
func FromPlaybook(id string) Source { return Source{PlaybookID: id} }

// FromSteps runs steps directly.
func FromSteps(steps []Step) Source { return Source{Steps: steps} }

// RunOptions controls a run.
type RunOptions struct {
	// SkipConfirmation runs confirmation-flagged steps instead of skipping
	// them. Unattended routine runs set it.
	SkipConfirmation bool
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index       int      `json:"index"`
	InputText   string   `json:"input_text"`
	Success     bool     `json:"success"`
	Skipped     bool     `json:"skipped,omitempty"`
	Message     string   `json:"message,omitempty"`
	AffectedIDs []string `json:"affected_ids,omitempty"`
	LogID       string   `json:"log_id,omitempty"`
}

// RunResult aggregates a run.
type RunResult struct {
	PlaybookID    string
	Success       bool
	Steps         []StepResult
	TotalAffected int
}

// Runner executes playbooks step by step.
type Runner struct {
	store  *Store
	engine Engine
}

// NewRunner returns a Runner loading playbooks from store. store may be nil
// when only explicit step lists are run.
func NewRunner(store *Store, eng Engine) *Runner {
	return &Runner{store: store, engine: eng}
}

// Run executes the steps of src in order. Every step runs to completion, or
// is skipped, before the next one starts, and a failing step never stops
// the run. The error is non-nil only when the playbook cannot be loaded.
func (r *Runner) Run(ctx context.Context, src Source, opts RunOptions) (*RunResult, error) {
	ctx, traceID := trace.Ensure(ctx)
	steps := src.Steps
	if src.PlaybookID != "" {
		if r.store == nil {
			return nil, fmt.Errorf("no playbook store configured")
		}
		p, err := r.store.Get(ctx, src.PlaybookID)
		if err != nil {
			return nil, err
		}
		steps = p.Steps
	}

	ctx, span := tracer.Start(ctx, "playbooks.Run", oteltrace.WithAttributes(
		attribute.String("jimu.trace_id", traceID),
		attribute.String("jimu.playbook_id", src.PlaybookID),
		attribute.Int("jimu.step_count", len(steps)),
	))
	defer span.End()

	logger := observability.WithTrace(ctx).With("playbook_id", src.PlaybookID)

	out := &RunResult{PlaybookID: src.PlaybookID, Success: true, Steps: make([]StepResult, 0, len(steps))}
	for i, step := range steps {
		res := r.runStep(ctx, i+1, step, opts)
		if !res.Success {
			out.Success = false
			logger.Warn("playbook step did not succeed", "step", res.Index, "message", res.Message)
		}
		out.TotalAffected += len(res.AffectedIDs)
		out.Steps = append(out.Steps, res)
	}

	span.SetAttributes(attribute.Int("jimu.total_affected", out.TotalAffected))
	if !out.Success {
		span.SetStatus(codes.Error, "one or more steps failed")
	}
	logger.Info("playbook run finished", "success", out.Success, "steps", len(out.Steps), "total_affected", out.TotalAffected)
	return out, nil
}

func (r *Runner) runStep(ctx context.Context, index int, step Step, opts RunOptions) (res StepResult) {
	res = StepResult{Index: index, InputText: step.InputText}
	if step.RequiresConfirmation && !opts.SkipConfirmation {
		res.Skipped = true
		res.Message = SkippedMessage
		return res
	}

	defer func() {
		if rec := recover(); rec != nil {
			res.Success = false
			res.AffectedIDs = nil
			res.Message = fmt.Sprintf("Step failed: %v", rec)
		}
	}()

	p := r.engine.ParseAndPlan(step.InputText, plan.Context{})
	out, err := r.engine.ExecuteSilently(ctx, p)
	if err != nil {
		res.Message = fmt.Sprintf("Step failed: %v", err)
		return res
	}
	res.Success = out.Success
	res.Message = out.Message
	res.AffectedIDs = out.AffectedIDs
	res.LogID = out.LogID
	return res
}

// Summary renders a one-line description of the run.
func (r *RunResult) Summary() string {
	ok := 0
	for _, s := range r.Steps {
		if s.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d steps succeeded, %d records processed", ok, len(r.Steps), r.TotalAffected)
}
