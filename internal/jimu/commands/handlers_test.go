package commands_test

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/commands"
	"github.com/bdobrica/Jimu/internal/jimu/config"
	"github.com/bdobrica/Jimu/internal/jimu/dispatch"
	"github.com/bdobrica/Jimu/internal/jimu/engine"
	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
	"github.com/bdobrica/Jimu/internal/jimu/routines"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

type fixture struct {
	router    *commands.Router
	handlers  *commands.Handlers
	store     *store.Store
	entities  *entities.SQLStore
	playbooks *playbooks.Store
	routines  *routines.Scheduler
	gate      *approvals.Gate
	config    config.Store
	notices   *audit.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "jimu-commands-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	notices := &audit.Recorder{}
	es := entities.New(s)
	eng := engine.New(nil, dispatch.New(s, es, dispatch.WithAnnouncer(dispatch.NotifierAnnouncer{Notifier: notices})))
	pbs := playbooks.NewStore(s.DB())
	runner := playbooks.NewRunner(pbs, eng)
	sched := routines.NewScheduler(s.DB(), pbs, runner, es, routines.WithNotifier(notices))
	gate := approvals.NewGate(approvals.NewStore(s.DB()), time.Hour)
	cs := config.New(s)

	h := commands.NewHandlers(commands.HandlersConfig{
		Store:     s,
		Engine:    eng,
		Playbooks: pbs,
		Runner:    runner,
		Routines:  sched,
		Approvals: gate,
		Config:    cs,
		Notifier:  notices,
	})
	router := commands.NewRouter(commands.Prefix)
	h.Register(router)
	h.SetDispatch(router.Dispatch)

	return &fixture{
		router: router, handlers: h, store: s, entities: es, playbooks: pbs,
		routines: sched, gate: gate, config: cs, notices: notices,
	}
}

func (fx *fixture) route(t *testing.T, sender, text string) string {
	t.Helper()
	resp, err := fx.router.Route(context.Background(), text, fakeEvent(sender))
	if err != nil {
		t.Fatalf("Route(%q): %v", text, err)
	}
	return resp
}

func (fx *fixture) seedStores(t *testing.T, ids ...string) {
	t.Helper()
	recs := make([]entities.Record, len(ids))
	for i, id := range ids {
		recs[i] = entities.Record{"id": id, "status": "active", "region": "north"}
	}
	if _, err := fx.entities.Insert(context.Background(), "stores", recs); err != nil {
		t.Fatalf("seed stores: %v", err)
	}
}

func (fx *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	entries, err := fx.store.GetAuditLog(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func fakeEvent(sender string) *event.Event {
	return &event.Event{
		Sender: id.UserID(sender),
		RoomID: id.RoomID("!admin:example.com"),
	}
}

var approvalIDPattern = regexp.MustCompile("Approval ID: `([0-9a-f]+)`")

func approvalID(t *testing.T, resp string) string {
	t.Helper()
	m := approvalIDPattern.FindStringSubmatch(resp)
	if m == nil {
		t.Fatalf("no approval id in response:\n%s", resp)
	}
	return m[1]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestHandleHelp_ListsSurfaces(t *testing.T) {
	fx := newFixture(t)
	resp := fx.route(t, "@alice:example.com", "/jimu help")
	for _, want := range []string{"/jimu plan", "playbooks create", "routines create", "approve <id>"} {
		if !strings.Contains(resp, want) {
			t.Errorf("help missing %q", want)
		}
	}
}

func TestHandlePlan_PreviewDoesNotExecute(t *testing.T) {
	fx := newFixture(t)
	fx.seedStores(t, "s1", "s2")

	resp := fx.route(t, "@alice:example.com", "/jimu plan notify stores --region north")
	if !strings.Contains(resp, "Notify") || !strings.Contains(resp, "region: north") {
		t.Errorf("unexpected plan preview: %s", resp)
	}
	logs, err := fx.store.ListAutomation(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListAutomation: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("plan must not execute, found %d automation entries", len(logs))
	}
	if !contains(fx.auditActions(t), "plan") {
		t.Error("plan command was not audited")
	}
}

func TestHandleRun_FilteredExecutesImmediately(t *testing.T) {
	fx := newFixture(t)
	fx.seedStores(t, "s1", "s2")

	resp := fx.route(t, "@alice:example.com", "/jimu run notify stores --region north")
	if !strings.HasPrefix(resp, "✅") {
		t.Fatalf("expected success, got: %s", resp)
	}
	n, err := fx.entities.Count(context.Background(), entities.TableNotifications, "entity_type", "stores")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}
	if len(fx.notices.Events) != 1 || fx.notices.Events[0].Kind != audit.KindPlanExecuted {
		t.Errorf("expected one executed notice, got %+v", fx.notices.Events)
	}
}

func TestHandleRun_UnknownEntityFlag(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.router.Route(context.Background(), "/jimu run notify --entity spaceships", fakeEvent("@alice:example.com"))
	if err == nil || !strings.Contains(err.Error(), "unknown entity type") {
		t.Errorf("expected unknown entity error, got %v", err)
	}
}

func TestFreeText_UnscopedPlanIsHeldThenApproved(t *testing.T) {
	fx := newFixture(t)
	fx.seedStores(t, "s1", "s2", "s3")
	ctx := context.Background()

	resp, err := fx.handlers.HandleFreeText(ctx, "notify every store", fakeEvent("@alice:example.com"))
	if err != nil {
		t.Fatalf("HandleFreeText: %v", err)
	}
	if !strings.Contains(resp, "Confirmation required") {
		t.Fatalf("expected the plan to be held, got: %s", resp)
	}
	apID := approvalID(t, resp)

	n, _ := fx.entities.Count(ctx, entities.TableNotifications, "entity_type", "stores")
	if n != 0 {
		t.Fatalf("held plan must not execute, found %d notifications", n)
	}

	resp, err = fx.handlers.HandleApprovalDecision(ctx, "approve "+apID, fakeEvent("@alice:example.com"))
	if err != nil {
		t.Fatalf("HandleApprovalDecision: %v", err)
	}
	if !strings.Contains(resp, "Approved") || !strings.Contains(resp, "Queued 3 notifications") {
		t.Errorf("unexpected approval response: %s", resp)
	}

	n, _ = fx.entities.Count(ctx, entities.TableNotifications, "entity_type", "stores")
	if n != 3 {
		t.Errorf("notifications = %d, want 3", n)
	}

	ap, err := fx.gate.Store().Get(ctx, apID)
	if err != nil {
		t.Fatalf("Get approval: %v", err)
	}
	if ap.Status != approvals.StatusApproved {
		t.Errorf("approval status = %s, want approved", ap.Status)
	}

	logs, _ := fx.store.ListAutomation(ctx, 10)
	if len(logs) != 1 || logs[0].Actor != "@alice:example.com" {
		t.Errorf("expected one automation entry by alice, got %+v", logs)
	}
}

func TestFreeText_DeniedPlanNeverRuns(t *testing.T) {
	fx := newFixture(t)
	fx.seedStores(t, "s1")
	ctx := context.Background()

	resp, err := fx.handlers.HandleFreeText(ctx, "notify every store", fakeEvent("@alice:example.com"))
	if err != nil {
		t.Fatalf("HandleFreeText: %v", err)
	}
	apID := approvalID(t, resp)

	resp, err = fx.handlers.HandleApprovalDecision(ctx, "deny "+apID+" wrong week", fakeEvent("@bob:example.com"))
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if !strings.Contains(resp, "wrong week") {
		t.Errorf("deny response should echo the reason: %s", resp)
	}

	resp, err = fx.handlers.HandleApprovalDecision(ctx, "approve "+apID, fakeEvent("@alice:example.com"))
	if err != nil {
		t.Fatalf("late approve: %v", err)
	}
	if !strings.Contains(resp, "already **denied**") {
		t.Errorf("expected already-denied notice, got: %s", resp)
	}
	if logs, _ := fx.store.ListAutomation(ctx, 10); len(logs) != 0 {
		t.Errorf("denied plan executed: %+v", logs)
	}
}

func TestApprovalDecision_NotADecision(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.handlers.HandleApprovalDecision(context.Background(), "mark unpaid invoices", fakeEvent("@alice:example.com"))
	if !errors.Is(err, approvals.ErrNotADecision) {
		t.Errorf("expected ErrNotADecision, got %v", err)
	}
}

func TestPlaybooks_CreateUpdateRunDelete(t *testing.T) {
	fx := newFixture(t)
	fx.seedStores(t, "s1", "s2")
	ctx := context.Background()
	alice := "@alice:example.com"

	resp := fx.route(t, alice, `/jimu playbooks create "Weekly ops" --steps "notify stores in the north; escalate every store" --confirm 2`)
	if !strings.Contains(resp, "Weekly ops") {
		t.Fatalf("unexpected create response: %s", resp)
	}
	list, err := fx.playbooks.List(ctx, alice)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v, %d playbooks", err, len(list))
	}
	pb := list[0]
	if !pb.Steps[1].RequiresConfirmation || pb.Steps[0].RequiresConfirmation {
		t.Errorf("confirmation flags: %+v", pb.Steps)
	}

	resp = fx.route(t, alice, "/jimu playbooks update "+pb.ID+` --steps "notify stores in the north"`)
	if !strings.Contains(resp, "-2. escalate every store [confirm]") {
		t.Errorf("update response should carry the step diff:\n%s", resp)
	}

	resp = fx.route(t, alice, "/jimu playbooks run "+pb.ID)
	if !strings.Contains(resp, "1/1 steps succeeded, 2 records processed") {
		t.Errorf("unexpected run response:\n%s", resp)
	}

	resp = fx.route(t, alice, "/jimu playbooks delete "+pb.ID)
	apID := approvalID(t, resp)
	if _, err := fx.playbooks.Get(ctx, pb.ID); err != nil {
		t.Fatalf("playbook deleted before approval: %v", err)
	}

	resp, err = fx.handlers.HandleApprovalDecision(ctx, "approve "+apID, fakeEvent("@bob:example.com"))
	if err != nil {
		t.Fatalf("approve delete: %v", err)
	}
	if !strings.Contains(resp, "deleted") {
		t.Errorf("unexpected approval response: %s", resp)
	}
	if _, err := fx.playbooks.Get(ctx, pb.ID); !errors.Is(err, playbooks.ErrNotFound) {
		t.Errorf("expected playbook to be gone, got %v", err)
	}

	actions := fx.auditActions(t)
	for _, want := range []string{"playbooks.create", "playbooks.update", "playbooks.run", "playbooks.delete.approval_requested", "approval.approve", "playbooks.delete"} {
		if !contains(actions, want) {
			t.Errorf("audit log missing %q (have %v)", want, actions)
		}
	}
}

func TestPlaybooks_DeleteCannotSkipApproval(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	mallory := "@mallory:example.com"

	pb, err := fx.playbooks.Create(ctx, mallory, "Target", "", []playbooks.Step{{InputText: "notify stores in the north"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp := fx.route(t, mallory, "/jimu playbooks delete "+pb.ID+" --_approved true")
	approvalID(t, resp)
	if _, err := fx.playbooks.Get(ctx, pb.ID); err != nil {
		t.Fatalf("playbook deleted without approval: %v", err)
	}
}

func TestPlaybooks_ImportExport(t *testing.T) {
	fx := newFixture(t)
	alice := "@alice:example.com"

	doc := "apiVersion: jimu/v1\nkind: Playbook\nmetadata:\n  title: Invoices\nsteps:\n  - text: notify unpaid invoices\n"
	resp := fx.route(t, alice, "/jimu playbooks import\n"+doc)
	if !strings.Contains(resp, "Imported **Invoices**") {
		t.Fatalf("unexpected import response: %s", resp)
	}

	list, _ := fx.playbooks.List(context.Background(), alice)
	if len(list) != 1 {
		t.Fatalf("expected one playbook, got %d", len(list))
	}
	resp = fx.route(t, alice, "/jimu playbooks export "+list[0].ID)
	if !strings.Contains(resp, "text: notify unpaid invoices") {
		t.Errorf("export missing step:\n%s", resp)
	}

	if _, err := fx.router.Route(context.Background(), "/jimu playbooks import\nkind: Playbook", fakeEvent(alice)); err == nil {
		t.Error("expected invalid document to be rejected")
	}
}

func TestRoutines_CreateRunLogs(t *testing.T) {
	fx := newFixture(t)
	fx.seedStores(t, "s1")
	ctx := context.Background()
	alice := "@alice:example.com"

	pb, err := fx.playbooks.Create(ctx, alice, "North", "", []playbooks.Step{{InputText: "notify stores in the north"}})
	if err != nil {
		t.Fatalf("Create playbook: %v", err)
	}

	fx.route(t, alice, "/jimu routines create "+pb.ID+" --frequency daily --notify")
	list, err := fx.routines.List(ctx, alice)
	if err != nil || len(list) != 1 {
		t.Fatalf("List routines: %v, %d", err, len(list))
	}
	r := list[0]
	if r.Frequency != routines.FrequencyDaily || !r.NotifyOwner {
		t.Errorf("unexpected routine: %+v", r)
	}

	resp := fx.route(t, alice, "/jimu routines run "+r.ID)
	if !strings.Contains(resp, "success, 1 records") {
		t.Errorf("unexpected run response: %s", resp)
	}

	resp = fx.route(t, alice, "/jimu routines update "+r.ID+" --active false")
	if !strings.Contains(resp, "⏸️") {
		t.Errorf("routine should be paused: %s", resp)
	}

	resp = fx.route(t, alice, "/jimu routines logs "+r.ID)
	if !strings.Contains(resp, "Runs of "+r.ID+"** (1)") {
		t.Errorf("unexpected logs response: %s", resp)
	}

	if _, err := fx.router.Route(ctx, "/jimu routines update "+r.ID+" --active maybe", fakeEvent(alice)); err == nil {
		t.Error("expected bad boolean to be rejected")
	}
}

func TestConfig_OnlyOperatorKeys(t *testing.T) {
	fx := newFixture(t)
	alice := "@alice:example.com"

	if _, err := fx.router.Route(context.Background(), "/jimu config set scheduler.last_tick now", fakeEvent(alice)); err == nil {
		t.Error("expected scheduler.last_tick to be read-only")
	}

	fx.route(t, alice, "/jimu config set "+config.KeySchedulerPaused+" true")
	paused, err := config.GetBool(context.Background(), fx.config, config.KeySchedulerPaused)
	if err != nil || !paused {
		t.Errorf("GetBool: %v, %v", paused, err)
	}

	resp := fx.route(t, alice, "/jimu config get "+config.KeyLastTick)
	if !strings.Contains(resp, "(not set)") {
		t.Errorf("unexpected get response: %s", resp)
	}
}

func TestLogsTail_ShowsAutomation(t *testing.T) {
	fx := newFixture(t)
	fx.seedStores(t, "s1")
	alice := "@alice:example.com"

	fx.route(t, alice, "/jimu run notify stores in the north")
	resp := fx.route(t, alice, "/jimu logs tail 5")
	if !strings.Contains(resp, `"notify stores in the north"`) {
		t.Errorf("unexpected logs tail:\n%s", resp)
	}
	resp = fx.route(t, alice, "/jimu audit tail")
	if !strings.Contains(resp, "run → stores") {
		t.Errorf("unexpected audit tail:\n%s", resp)
	}
}
