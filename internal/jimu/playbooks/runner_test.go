package playbooks_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/bdobrica/Jimu/internal/jimu/dispatch"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
)

// scriptedEngine succeeds over one id per word, fails on "nothing",
// returns an error on "broken" and panics on "explode".
type scriptedEngine struct {
	calls []string
}

func (e *scriptedEngine) ParseAndPlan(text string, c plan.Context) plan.Plan {
	if len(c.SelectedIDs) > 0 || len(c.Filters) > 0 || c.EntityType != "" {
		panic("steps must be planned without carried-over context")
	}
	return plan.Plan{InputText: text}
}

func (e *scriptedEngine) ExecuteSilently(_ context.Context, p plan.Plan) (dispatch.Result, error) {
	e.calls = append(e.calls, p.InputText)
	switch {
	case strings.Contains(p.InputText, "explode"):
		panic("index out of range")
	case strings.Contains(p.InputText, "broken"):
		return dispatch.Result{}, errors.New("database is locked")
	case strings.Contains(p.InputText, "nothing"):
		return dispatch.Result{Message: dispatch.NoEntitiesMessage}, nil
	}
	return dispatch.Result{Success: true, AffectedIDs: strings.Fields(p.InputText), Message: "ok"}, nil
}

func TestRun_FailureIsolation(t *testing.T) {
	for _, bad := range []string{"explode here", "broken step", "nothing matches"} {
		t.Run(bad, func(t *testing.T) {
			eng := &scriptedEngine{}
			r := playbooks.NewRunner(nil, eng)

			res, err := r.Run(context.Background(), playbooks.FromSteps([]playbooks.Step{
				{InputText: "notify stores"},
				{InputText: bad},
				{InputText: "export orders now"},
			}), playbooks.RunOptions{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Success {
				t.Error("run with a failed step must not succeed")
			}
			if len(res.Steps) != 3 {
				t.Fatalf("steps = %d, want 3", len(res.Steps))
			}
			if !res.Steps[0].Success || res.Steps[1].Success || !res.Steps[2].Success {
				t.Errorf("step outcomes = %v %v %v", res.Steps[0].Success, res.Steps[1].Success, res.Steps[2].Success)
			}
			if res.TotalAffected != 5 {
				t.Errorf("TotalAffected = %d, want 5", res.TotalAffected)
			}
			if len(eng.calls) != 3 {
				t.Errorf("engine calls = %v", eng.calls)
			}
		})
	}
}

func TestRun_ConfirmationSkip(t *testing.T) {
	steps := []playbooks.Step{
		{InputText: "text all drivers", RequiresConfirmation: true},
		{InputText: "export orders"},
	}

	eng := &scriptedEngine{}
	res, err := playbooks.NewRunner(nil, eng).Run(context.Background(), playbooks.FromSteps(steps), playbooks.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	first := res.Steps[0]
	if first.Success || !first.Skipped || first.Message != playbooks.SkippedMessage {
		t.Errorf("first step = %+v", first)
	}
	if !res.Steps[1].Success {
		t.Error("a skipped step must not stop later steps")
	}
	if res.Success {
		t.Error("run with a skipped step reports failure")
	}
	if len(eng.calls) != 1 {
		t.Errorf("skipped step was executed: %v", eng.calls)
	}

	eng = &scriptedEngine{}
	res, err = playbooks.NewRunner(nil, eng).Run(context.Background(), playbooks.FromSteps(steps), playbooks.RunOptions{SkipConfirmation: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.TotalAffected != 5 {
		t.Errorf("unattended run = %+v", res)
	}
	if got := res.Summary(); got != "2/2 steps succeeded, 5 records processed" {
		t.Errorf("Summary = %q", got)
	}
}

func TestRun_EmptyRunSucceeds(t *testing.T) {
	res, err := playbooks.NewRunner(nil, &scriptedEngine{}).Run(context.Background(), playbooks.FromSteps(nil), playbooks.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.TotalAffected != 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestRun_StoredPlaybook(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := playbooks.NewRunner(s, &scriptedEngine{}).Run(ctx, playbooks.FromPlaybook("missing"), playbooks.RunOptions{}); !errors.Is(err, playbooks.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	p, err := s.Create(ctx, "a", "Restock", "", restock)
	if err != nil {
		t.Fatal(err)
	}
	res, err := playbooks.NewRunner(s, &scriptedEngine{}).Run(ctx, playbooks.FromPlaybook(p.ID), playbooks.RunOptions{SkipConfirmation: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.PlaybookID != p.ID || len(res.Steps) != 2 {
		t.Errorf("res = %+v", res)
	}
}

func TestRun_DocumentRoundTripRunsIdentically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	steps := []playbooks.Step{
		{InputText: "notify stores in the north"},
		{InputText: "broken export"},
		{InputText: "text drivers", RequiresConfirmation: true},
		{InputText: "mark unpaid invoices"},
	}
	p, err := s.Create(ctx, "a", "Round trip", "", steps)
	if err != nil {
		t.Fatal(err)
	}
	data, err := s.Export(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := s.Import(ctx, "b", data)
	if err != nil {
		t.Fatal(err)
	}

	direct, err := playbooks.NewRunner(s, &scriptedEngine{}).Run(ctx, playbooks.FromSteps(steps), playbooks.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	viaDoc, err := playbooks.NewRunner(s, &scriptedEngine{}).Run(ctx, playbooks.FromPlaybook(reloaded.ID), playbooks.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(direct.Steps, viaDoc.Steps) {
		t.Errorf("results differ:\n direct %+v\n viaDoc %+v", direct.Steps, viaDoc.Steps)
	}
}
