// Package dispatch executes approved plans: it records the plan in the
// automation log, checks compliance, resolves the target ids, runs the
// handler for the plan's action and records the outcome.
//
// Execute always returns a Result describing what happened. It returns an
// error only when the automation log itself could not be written, because
// at that point there is no durable record of the attempt.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/internal/jimu/actions"
	"github.com/bdobrica/Jimu/internal/jimu/compliance"
	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/observability"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/scopelock"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

// NoEntitiesMessage is reported when a plan resolves to zero ids.
const NoEntitiesMessage = "No entities found matching the criteria"

var tracer = otel.Tracer("github.com/bdobrica/Jimu/internal/jimu/dispatch")

// Result is the outcome of one execution.
type Result struct {
	Success     bool
	AffectedIDs []string
	Message     string
	// LogID is the automation log entry written for this execution.
	LogID string
}

// AutomationLog is the audit trail the dispatcher writes to.
type AutomationLog interface {
	BeginAutomation(ctx context.Context, e *store.AutomationLog) error
	FinishAutomation(ctx context.Context, id string, status store.AutomationStatus, entityIDs []string, errorMsg string) error
}

// Announcer surfaces an outcome to the operator. Implementations must not
// block for long.
type Announcer interface {
	Announce(ctx context.Context, p plan.Plan, r Result)
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func(ctx context.Context, p plan.Plan, r Result)

// Announce implements Announcer.
func (f AnnouncerFunc) Announce(ctx context.Context, p plan.Plan, r Result) { f(ctx, p, r) }

// Dispatcher executes plans. It is safe for concurrent use if its
// collaborators are.
type Dispatcher struct {
	log       AutomationLog
	entities  entities.Store
	handlers  *actions.Set
	validator compliance.Validator
	locker    scopelock.Locker
	lockTTL   time.Duration
	announcer Announcer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithValidator installs a compliance validator.
func WithValidator(v compliance.Validator) Option {
	return func(d *Dispatcher) { d.validator = v }
}

// WithLocker installs a scope locker.
func WithLocker(l scopelock.Locker, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.locker = l
		d.lockTTL = ttl
	}
}

// WithAnnouncer sets where interactive outcomes are announced.
func WithAnnouncer(a Announcer) Option {
	return func(d *Dispatcher) { d.announcer = a }
}

// WithHandlers replaces the default handler set.
func WithHandlers(h *actions.Set) Option {
	return func(d *Dispatcher) { d.handlers = h }
}

// New returns a Dispatcher writing to log and acting on es. Without
// options there are no compliance rules, no scope lock and no announcer.
func New(log AutomationLog, es entities.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:       log,
		entities:  es,
		validator: compliance.Allow{},
		locker:    scopelock.None{},
		lockTTL:   scopelock.DefaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.handlers == nil {
		d.handlers = actions.NewSet(es, nil)
	}
	return d
}

// Execute runs p and announces the outcome.
func (d *Dispatcher) Execute(ctx context.Context, p plan.Plan) (Result, error) {
	return d.execute(ctx, p, true)
}

// ExecuteSilently runs p without announcing it. Playbook and routine runs
// use it and report their own summaries.
func (d *Dispatcher) ExecuteSilently(ctx context.Context, p plan.Plan) (Result, error) {
	return d.execute(ctx, p, false)
}

func (d *Dispatcher) execute(ctx context.Context, p plan.Plan, announce bool) (Result, error) {
	ctx, traceID := trace.Ensure(ctx)
	ctx, span := tracer.Start(ctx, "dispatch.Execute", oteltrace.WithAttributes(
		attribute.String("jimu.trace_id", traceID),
		attribute.String("jimu.action", string(p.ExecutionAction)),
		attribute.String("jimu.entity_type", string(p.EntityType)),
		attribute.Int("jimu.selected_count", len(p.SelectedIDs)),
	))
	defer span.End()

	logger := observability.WithTrace(ctx).With("action", p.ExecutionAction, "entity_type", p.EntityType)

	entry := &store.AutomationLog{
		InputText:  p.InputText,
		ParsedPlan: p.JSON(),
		EntityType: string(p.EntityType),
		EntityIDs:  p.SelectedIDs,
		TraceID:    traceID,
		Actor:      trace.ActorFromContext(ctx),
	}
	if err := d.log.BeginAutomation(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "automation log write failed")
		logger.Error("automation log write failed; plan not executed", "err", err)
		return Result{}, fmt.Errorf("record planned execution: %w", err)
	}

	res := d.run(ctx, p)
	res.LogID = entry.ID

	status := store.AutomationExecuted
	errMsg := ""
	if !res.Success {
		status = store.AutomationError
		errMsg = res.Message
		span.SetStatus(codes.Error, res.Message)
	}
	span.SetAttributes(attribute.Int("jimu.affected_count", len(res.AffectedIDs)))

	var finishErr error
	if err := d.log.FinishAutomation(ctx, entry.ID, status, res.AffectedIDs, errMsg); err != nil {
		span.RecordError(err)
		logger.Error("automation log transition failed", "log_id", entry.ID, "err", err)
		finishErr = fmt.Errorf("record execution outcome: %w", err)
	}

	if res.Success {
		logger.Info("plan executed", "log_id", entry.ID, "affected", len(res.AffectedIDs))
	} else {
		logger.Warn("plan failed", "log_id", entry.ID, "message", res.Message)
	}

	if announce && d.announcer != nil {
		d.announcer.Announce(ctx, p, res)
	}
	return res, finishErr
}

// run performs everything between the planned and terminal log writes.
func (d *Dispatcher) run(ctx context.Context, p plan.Plan) Result {
	if err := d.validator.Validate(ctx, p); err != nil {
		var v *compliance.Violation
		if errors.As(err, &v) {
			return Result{Message: v.Error()}
		}
		return Result{Message: fmt.Sprintf("Compliance check failed: %v", err)}
	}

	release, err := d.locker.Acquire(ctx, scopelock.Key(p), d.lockTTL)
	if err != nil {
		if errors.Is(err, scopelock.ErrHeld) {
			return Result{Message: "Another execution is already running for these entities"}
		}
		return Result{Message: fmt.Sprintf("Could not lock entities: %v", err)}
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			observability.WithTrace(ctx).Warn("scope lock release failed", "err", err)
		}
	}()

	ids, err := d.resolve(ctx, p)
	if err != nil {
		return Result{Message: fmt.Sprintf("Failed to resolve entities: %v", err)}
	}
	if len(ids) == 0 {
		return Result{Message: NoEntitiesMessage}
	}

	out, err := d.handle(ctx, p, ids)
	if err != nil {
		return Result{Message: fmt.Sprintf("Execution failed: %v", err)}
	}
	if !out.Success && out.Message == "" {
		out.Message = "Execution failed"
	}
	return Result{Success: out.Success, AffectedIDs: out.AffectedIDs, Message: out.Message}
}

// resolve returns the explicit selection verbatim, or the first page of
// ids matching the plan's filters.
func (d *Dispatcher) resolve(ctx context.Context, p plan.Plan) ([]string, error) {
	if len(p.SelectedIDs) > 0 {
		return p.SelectedIDs, nil
	}
	return d.entities.QueryIDs(ctx, p.EntityType, p.Filters, entities.DefaultQueryLimit)
}

// handle runs the handler, converting panics into errors.
func (d *Dispatcher) handle(ctx context.Context, p plan.Plan, ids []string) (res actions.Result, err error) {
	ctx, span := tracer.Start(ctx, "dispatch.handler", oteltrace.WithAttributes(
		attribute.String("jimu.action", string(p.ExecutionAction)),
		attribute.Int("jimu.resolved_count", len(ids)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return d.handlers.For(p.ExecutionAction).Handle(ctx, p, ids)
}
