package routines

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/observability"
	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
)

// NotificationEntity is the entity_type of owner notifications written
// after a routine run.
const NotificationEntity = "routines"

// Runner runs playbooks. *playbooks.Runner implements it.
type Runner interface {
	Run(ctx context.Context, src playbooks.Source, opts playbooks.RunOptions) (*playbooks.RunResult, error)
}

// PlaybookLookup checks that a playbook exists.
type PlaybookLookup interface {
	Get(ctx context.Context, id string) (*playbooks.Playbook, error)
}

// Scheduler manages routines and runs them.
type Scheduler struct {
	store     store
	playbooks PlaybookLookup
	runner    Runner
	entities  entities.Store
	notifier  audit.Notifier
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithNotifier posts a notice to the audit room after every run.
func WithNotifier(n audit.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// NewScheduler returns a Scheduler storing routines in db. Owner
// notifications are inserted through es.
func NewScheduler(db *sql.DB, pb PlaybookLookup, runner Runner, es entities.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store{db: db},
		playbooks: pb,
		runner:    runner,
		entities:  es,
		notifier:  audit.Noop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams describes a new routine.
type CreateParams struct {
	PlaybookID  string
	Owner       string
	Frequency   Frequency
	CronExpr    string
	NotifyOwner bool
}

// Create stores an active routine for an existing playbook. Its first run
// is one interval from now.
func (s *Scheduler) Create(ctx context.Context, p CreateParams) (*Routine, error) {
	if _, err := s.playbooks.Get(ctx, p.PlaybookID); err != nil {
		return nil, err
	}
	if p.CronExpr != "" && p.Frequency != FrequencyCustom {
		return nil, fmt.Errorf("a cron expression requires the custom frequency")
	}

	now := s.clock()
	next, err := NextRun(p.Frequency, p.CronExpr, now)
	if err != nil {
		return nil, err
	}
	r := &Routine{
		ID:          uuid.NewString(),
		PlaybookID:  p.PlaybookID,
		Owner:       p.Owner,
		Frequency:   p.Frequency,
		CronExpr:    strings.TrimSpace(p.CronExpr),
		NextRunAt:   next,
		Active:      true,
		NotifyOwner: p.NotifyOwner,
		CreatedAt:   now,
	}
	if err := s.store.insert(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateParams describes an edit. Nil fields are left unchanged.
type UpdateParams struct {
	Frequency   *Frequency
	CronExpr    *string
	Active      *bool
	NotifyOwner *bool
}

// Update edits a routine. Changing the frequency or the cron expression
// reschedules it one interval from now. Reactivating keeps next_run_at.
func (s *Scheduler) Update(ctx context.Context, id string, p UpdateParams) (*Routine, error) {
	r, err := s.store.get(ctx, id)
	if err != nil {
		return nil, err
	}

	reschedule := false
	if p.Frequency != nil && *p.Frequency != r.Frequency {
		r.Frequency = *p.Frequency
		reschedule = true
	}
	if p.CronExpr != nil && strings.TrimSpace(*p.CronExpr) != r.CronExpr {
		r.CronExpr = strings.TrimSpace(*p.CronExpr)
		reschedule = true
	}
	if r.Frequency != FrequencyCustom {
		r.CronExpr = ""
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	if p.NotifyOwner != nil {
		r.NotifyOwner = *p.NotifyOwner
	}

	if reschedule {
		next, err := NextRun(r.Frequency, r.CronExpr, s.clock())
		if err != nil {
			return nil, err
		}
		r.NextRunAt = next
	}
	if err := s.store.update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a routine. Its logs are kept.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	return s.store.delete(ctx, id)
}

// Get returns one routine.
func (s *Scheduler) Get(ctx context.Context, id string) (*Routine, error) {
	return s.store.get(ctx, id)
}

// List returns the routines of owner, or every routine when owner is empty.
func (s *Scheduler) List(ctx context.Context, owner string) ([]*Routine, error) {
	return s.store.list(ctx, owner)
}

// Count returns the number of stored routines.
func (s *Scheduler) Count(ctx context.Context) (int, error) {
	return s.store.count(ctx)
}

// Logs returns the most recent run logs, newest first. An empty routineID
// returns logs of every routine.
func (s *Scheduler) Logs(ctx context.Context, routineID string, limit int) ([]*Log, error) {
	return s.store.logs(ctx, routineID, limit)
}

// RunNow runs a routine immediately, active or not, and returns its log.
// The run reschedules the routine one interval from now.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*Log, error) {
	r, err := s.store.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, r)
}

// RunDue runs every active routine whose next run time has passed and
// returns how many ran. A failing routine does not stop the others.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	due, err := s.store.due(ctx, s.clock())
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		if _, err := s.run(ctx, r); err != nil {
			observability.WithTrace(ctx).Error("routine run failed", "routine_id", r.ID, "err", err)
			continue
		}
		ran++
	}
	return ran, nil
}

func (s *Scheduler) run(ctx context.Context, r *Routine) (*Log, error) {
	ctx, _ = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx).With("routine_id", r.ID, "playbook_id", r.PlaybookID)
	now := s.clock()

	entry := &Log{
		ID:         uuid.NewString(),
		RoutineID:  r.ID,
		PlaybookID: r.PlaybookID,
		RunAt:      now,
		Status:     LogError,
	}
	res, err := s.runner.Run(ctx, playbooks.FromPlaybook(r.PlaybookID), playbooks.RunOptions{SkipConfirmation: true})
	if err != nil {
		entry.ErrorMessage = err.Error()
	} else {
		entry.StepResults = res.Steps
		entry.TotalAffected = res.TotalAffected
		if res.Success {
			entry.Status = LogSuccess
		} else {
			entry.ErrorMessage = failedSteps(res)
		}
	}
	if err := s.store.insertLog(ctx, entry); err != nil {
		return nil, err
	}

	next, err := NextRun(r.Frequency, r.CronExpr, now)
	if err != nil {
		return nil, err
	}
	r.NextRunAt = next
	r.LastRunAt = &now
	if err := s.store.update(ctx, r); err != nil {
		return nil, err
	}
	logger.Info("routine ran", "status", entry.Status, "total_affected", entry.TotalAffected, "next_run_at", next)

	summary := fmt.Sprintf("Routine %s processed %d records (%s)", r.ID, entry.TotalAffected, entry.Status)
	if r.NotifyOwner {
		if _, err := s.entities.Insert(ctx, entities.TableNotifications, []entities.Record{{
			"entity_type":      NotificationEntity,
			"entity_id":        r.ID,
			"suggested_action": "review",
			"reason":           summary,
			"urgency":          "low",
			"status":           "pending",
		}}); err != nil {
			logger.Warn("failed to enqueue routine owner notification", "err", err)
		}
	}
	s.notifier.Notify(ctx, audit.Event{
		Kind:    audit.KindRoutineRun,
		Actor:   r.Owner,
		Target:  r.PlaybookID,
		Message: summary,
	})
	return entry, nil
}

func failedSteps(res *playbooks.RunResult) string {
	var parts []string
	for _, st := range res.Steps {
		if !st.Success {
			parts = append(parts, fmt.Sprintf("step %d: %s", st.Index, st.Message))
		}
	}
	return strings.Join(parts, "; ")
}

func (s *Scheduler) clock() time.Time {
	return s.now().UTC()
}
