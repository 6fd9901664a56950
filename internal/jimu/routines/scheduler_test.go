package routines_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
	"github.com/bdobrica/Jimu/internal/jimu/routines"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRunner struct {
	result *playbooks.RunResult
	err    error
	runs   []playbooks.RunOptions
}

func (r *fakeRunner) Run(_ context.Context, src playbooks.Source, opts playbooks.RunOptions) (*playbooks.RunResult, error) {
	r.runs = append(r.runs, opts)
	if r.err != nil {
		return nil, r.err
	}
	out := *r.result
	out.PlaybookID = src.PlaybookID
	return &out, nil
}

type fixture struct {
	sched    *routines.Scheduler
	clock    *fakeClock
	runner   *fakeRunner
	notices  *audit.Recorder
	entities *entities.SQLStore
	playbook *playbooks.Playbook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "jimu-routines-*.db")
	require.NoError(t, err)
	f.Close()

	s, err := store.New(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pbs := playbooks.NewStore(s.DB())
	pb, err := pbs.Create(context.Background(), "@ops:example.com", "Restock", "", []playbooks.Step{
		{InputText: "notify stores with low stock"},
	})
	require.NoError(t, err)

	fx := &fixture{
		clock: &fakeClock{now: time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)},
		runner: &fakeRunner{result: &playbooks.RunResult{
			Success:       true,
			Steps:         []playbooks.StepResult{{Index: 1, InputText: "notify stores with low stock", Success: true, AffectedIDs: []string{"s1", "s2"}}},
			TotalAffected: 2,
		}},
		notices:  &audit.Recorder{},
		entities: entities.New(s),
		playbook: pb,
	}
	fx.sched = routines.NewScheduler(s.DB(), pbs, fx.runner, fx.entities,
		routines.WithClock(fx.clock.Now), routines.WithNotifier(fx.notices))
	return fx
}

func (fx *fixture) create(t *testing.T, freq routines.Frequency, notify bool) *routines.Routine {
	t.Helper()
	r, err := fx.sched.Create(context.Background(), routines.CreateParams{
		PlaybookID:  fx.playbook.ID,
		Owner:       "@ops:example.com",
		Frequency:   freq,
		NotifyOwner: notify,
	})
	require.NoError(t, err)
	return r
}

func TestScheduler_WeeklyRunNowReschedulesFromRunTime(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	created := fx.clock.Now()

	r := fx.create(t, routines.FrequencyWeekly, false)
	assert.True(t, r.Active)
	assert.True(t, r.NextRunAt.Equal(created.Add(7*24*time.Hour)), "next_run_at = %v", r.NextRunAt)

	fx.clock.Advance(3 * 24 * time.Hour)
	runAt := fx.clock.Now()
	entry, err := fx.sched.RunNow(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, routines.LogSuccess, entry.Status)
	assert.Equal(t, 2, entry.TotalAffected)

	got, err := fx.sched.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(runAt.Add(7*24*time.Hour)), "next_run_at = %v, want run time + 7 days", got.NextRunAt)
	assert.False(t, got.NextRunAt.Equal(created.Add(14*24*time.Hour)))
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(runAt))

	require.Len(t, fx.runner.runs, 1)
	assert.True(t, fx.runner.runs[0].SkipConfirmation, "unattended runs must skip confirmation")
}

func TestScheduler_CreateRequiresPlaybook(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.sched.Create(context.Background(), routines.CreateParams{
		PlaybookID: "missing",
		Frequency:  routines.FrequencyDaily,
	})
	assert.ErrorIs(t, err, playbooks.ErrNotFound)

	_, err = fx.sched.Create(context.Background(), routines.CreateParams{
		PlaybookID: fx.playbook.ID,
		Frequency:  routines.FrequencyDaily,
		CronExpr:   "0 9 * * *",
	})
	assert.Error(t, err, "cron expression without custom frequency")
}

func TestScheduler_FrequencyChangeReschedules(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	r := fx.create(t, routines.FrequencyMonthly, false)
	fx.clock.Advance(2 * time.Hour)

	daily := routines.FrequencyDaily
	got, err := fx.sched.Update(ctx, r.ID, routines.UpdateParams{Frequency: &daily})
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(fx.clock.Now().Add(24*time.Hour)))

	custom := routines.FrequencyCustom
	expr := "0 8 * * 1"
	got, err = fx.sched.Update(ctx, r.ID, routines.UpdateParams{Frequency: &custom, CronExpr: &expr})
	require.NoError(t, err)
	// 2026-10-05 is a Monday; the next Monday 08:00 is a week later.
	assert.Equal(t, time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC), got.NextRunAt.UTC())

	notify := true
	before := got.NextRunAt
	fx.clock.Advance(time.Hour)
	got, err = fx.sched.Update(ctx, r.ID, routines.UpdateParams{NotifyOwner: &notify})
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(before), "non-frequency edits keep next_run_at")
	assert.True(t, got.NotifyOwner)
}

func TestScheduler_RunDue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	daily := fx.create(t, routines.FrequencyDaily, false)
	weekly := fx.create(t, routines.FrequencyWeekly, false)
	paused := fx.create(t, routines.FrequencyDaily, false)
	off := false
	_, err := fx.sched.Update(ctx, paused.ID, routines.UpdateParams{Active: &off})
	require.NoError(t, err)

	n, err := fx.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is due yet")

	fx.clock.Advance(25 * time.Hour)
	n, err = fx.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logs, err := fx.sched.Logs(ctx, daily.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	logs, err = fx.sched.Logs(ctx, weekly.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
	logs, err = fx.sched.Logs(ctx, paused.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs, "inactive routines never fire automatically")

	n, err = fx.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a run reschedules the routine")
}

func TestScheduler_DeactivatedRunNowStillAdvances(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	r := fx.create(t, routines.FrequencyDaily, false)
	off := false
	_, err := fx.sched.Update(ctx, r.ID, routines.UpdateParams{Active: &off})
	require.NoError(t, err)

	fx.clock.Advance(10 * 24 * time.Hour)
	_, err = fx.sched.RunNow(ctx, r.ID)
	require.NoError(t, err)

	got, err := fx.sched.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.True(t, got.NextRunAt.Equal(fx.clock.Now().Add(24*time.Hour)))

	on := true
	got, err = fx.sched.Update(ctx, r.ID, routines.UpdateParams{Active: &on})
	require.NoError(t, err)
	n, err := fx.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "reactivation must not fire a backlog")
	assert.True(t, got.Active)
}

func TestScheduler_FailedRunIsLogged(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	r := fx.create(t, routines.FrequencyDaily, false)

	fx.runner.result = &playbooks.RunResult{
		Success: false,
		Steps: []playbooks.StepResult{
			{Index: 1, Success: true, AffectedIDs: []string{"a"}},
			{Index: 2, Success: false, Message: "No entities found matching the criteria"},
		},
		TotalAffected: 1,
	}
	entry, err := fx.sched.RunNow(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, routines.LogError, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "step 2")

	fx.clock.Advance(time.Minute)
	fx.runner.err = playbooks.ErrNotFound
	entry, err = fx.sched.RunNow(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, routines.LogError, entry.Status)
	assert.Empty(t, entry.StepResults)

	logs, err := fx.sched.Logs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Len(t, logs[1].StepResults, 2, "step results survive the round trip")
}

func TestScheduler_NotifyOwner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	quiet := fx.create(t, routines.FrequencyDaily, false)
	loud := fx.create(t, routines.FrequencyDaily, true)

	_, err := fx.sched.RunNow(ctx, quiet.ID)
	require.NoError(t, err)
	_, err = fx.sched.RunNow(ctx, loud.ID)
	require.NoError(t, err)

	n, err := fx.entities.Count(ctx, entities.TableNotifications, "entity_id", loud.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = fx.entities.Count(ctx, entities.TableNotifications, "entity_id", quiet.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, fx.notices.Events, 2)
	assert.Equal(t, audit.KindRoutineRun, fx.notices.Events[1].Kind)
	assert.Contains(t, fx.notices.Events[1].Message, "processed 2 records")
}

func TestScheduler_DeleteKeepsLogs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	r := fx.create(t, routines.FrequencyDaily, false)
	_, err := fx.sched.RunNow(ctx, r.ID)
	require.NoError(t, err)

	require.NoError(t, fx.sched.Delete(ctx, r.ID))
	_, err = fx.sched.Get(ctx, r.ID)
	assert.True(t, errors.Is(err, routines.ErrNotFound))
	assert.ErrorIs(t, fx.sched.Delete(ctx, r.ID), routines.ErrNotFound)
	_, err = fx.sched.RunNow(ctx, r.ID)
	assert.ErrorIs(t, err, routines.ErrNotFound)

	logs, err := fx.sched.Logs(ctx, r.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	list, err := fx.sched.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}
