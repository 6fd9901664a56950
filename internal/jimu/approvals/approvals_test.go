package approvals_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/approvals"
	"github.com/bdobrica/Jimu/internal/jimu/intent"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/store"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

func newTestStore(t *testing.T) *approvals.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "approvals-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return approvals.NewStore(s.DB())
}

// --- Store tests ---

func TestApproval_CreateGetApprove(t *testing.T) {
	as := newTestStore(t)
	ctx := context.Background()

	ap, err := as.Create(ctx, approvals.ActionRoutineDelete, "r1", "{}", "@alice:example.com", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(ap.ID) != 12 || ap.Status != approvals.StatusPending {
		t.Errorf("created = %+v", ap)
	}

	if err := as.Approve(ctx, ap.ID, "@bob:example.com", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	got, err := as.Get(ctx, ap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approvals.StatusApproved {
		t.Errorf("status = %q", got.Status)
	}
	if got.ResolvedBy == nil || *got.ResolvedBy != "@bob:example.com" || got.ResolvedAt == nil {
		t.Errorf("resolution not recorded: %+v", got)
	}

	if err := as.Deny(ctx, ap.ID, "@carol:example.com", "too late"); !errors.Is(err, approvals.ErrNotPending) {
		t.Errorf("second resolution: err = %v, want ErrNotPending", err)
	}
}

func TestApproval_NotFound(t *testing.T) {
	as := newTestStore(t)
	ctx := context.Background()

	if _, err := as.Get(ctx, "nonexistent"); !errors.Is(err, approvals.ErrNotFound) {
		t.Errorf("Get: err = %v", err)
	}
	if err := as.Approve(ctx, "nonexistent", "@bob:example.com", ""); !errors.Is(err, approvals.ErrNotFound) {
		t.Errorf("Approve: err = %v", err)
	}
}

func TestApproval_DenyRecordsReason(t *testing.T) {
	as := newTestStore(t)
	ctx := context.Background()

	ap, err := as.Create(ctx, approvals.ActionPlanExecute, "stores", "{}", "@alice:example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := as.Deny(ctx, ap.ID, "@bob:example.com", "touches every store"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	got, err := as.Get(ctx, ap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != approvals.StatusDenied || got.ResolveReason == nil || *got.ResolveReason != "touches every store" {
		t.Errorf("got = %+v", got)
	}
}

func TestApproval_ExpiredCannotBeApproved(t *testing.T) {
	as := newTestStore(t)
	ctx := context.Background()

	ap, err := as.Create(ctx, approvals.ActionPlanExecute, "stores", "{}", "@alice:example.com", -time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := as.Approve(ctx, ap.ID, "@bob:example.com", ""); !errors.Is(err, approvals.ErrNotPending) {
		t.Errorf("Approve expired: err = %v, want ErrNotPending", err)
	}

	n, err := as.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	got, _ := as.Get(ctx, ap.ID)
	if got.Status != approvals.StatusExpired {
		t.Errorf("status = %q, want expired", got.Status)
	}
}

func TestApproval_ListFilterByStatus(t *testing.T) {
	as := newTestStore(t)
	ctx := context.Background()

	a1, _ := as.Create(ctx, approvals.ActionPlanExecute, "stores", "{}", "@alice:example.com", time.Hour)
	if _, err := as.Create(ctx, approvals.ActionPlanExecute, "drivers", "{}", "@alice:example.com", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := as.Cancel(ctx, a1.ID, "@alice:example.com", "changed my mind"); err != nil {
		t.Fatal(err)
	}

	pending, err := as.List(ctx, approvals.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Target != "drivers" {
		t.Errorf("pending = %+v", pending)
	}
	all, err := as.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestApproval_IsExpired(t *testing.T) {
	past := time.Now().Add(-time.Second)
	if !(&approvals.Approval{Status: approvals.StatusPending, ExpiresAt: past}).IsExpired() {
		t.Error("pending past deadline should be expired")
	}
	if (&approvals.Approval{Status: approvals.StatusPending, ExpiresAt: time.Now().Add(time.Hour)}).IsExpired() {
		t.Error("pending before deadline should not be expired")
	}
	if (&approvals.Approval{Status: approvals.StatusApproved, ExpiresAt: past}).IsExpired() {
		t.Error("resolved approvals never expire")
	}
}

// --- Parser tests ---

func TestParseDecision(t *testing.T) {
	cases := []struct {
		text    string
		approve bool
		id      string
		reason  string
	}{
		{"approve abc123", true, "abc123", ""},
		{"APPROVE abc123 looks good", true, "abc123", "looks good"},
		{`deny abc123 reason="wrong region"`, false, "abc123", "wrong region"},
		{"Deny abc123 wrong region", false, "abc123", "wrong region"},
		{"deny abc123 reason=stale", false, "abc123", "stale"},
	}
	for _, tc := range cases {
		d, err := approvals.ParseDecision(tc.text)
		if err != nil {
			t.Errorf("ParseDecision(%q): %v", tc.text, err)
			continue
		}
		if d.Approve != tc.approve || d.ApprovalID != tc.id || d.Reason != tc.reason {
			t.Errorf("ParseDecision(%q) = %+v", tc.text, d)
		}
	}
}

func TestParseDecision_Errors(t *testing.T) {
	for _, text := range []string{"deny", "approve", "deny abc123", `deny abc123 reason=""`} {
		_, err := approvals.ParseDecision(text)
		if err == nil || errors.Is(err, approvals.ErrNotADecision) {
			t.Errorf("ParseDecision(%q) = %v, want usage error", text, err)
		}
	}
	for _, text := range []string{"", "hello", "approved abc", "notify stores"} {
		if _, err := approvals.ParseDecision(text); !errors.Is(err, approvals.ErrNotADecision) {
			t.Errorf("ParseDecision(%q) = %v, want ErrNotADecision", text, err)
		}
	}
}

// --- Gate tests ---

func TestGate_RequestPlanRoundTrip(t *testing.T) {
	as := newTestStore(t)
	g := approvals.NewGate(as, 0)
	ctx := context.Background()

	p := plan.NewBuilder(nil).Build(intent.NewParser(nil).Parse("text every driver"), plan.Context{})
	if !p.RequiresConfirmation {
		t.Fatal("an unfiltered plan needs confirmation")
	}
	ap, err := g.RequestPlan(ctx, p, "@alice:example.com")
	if err != nil {
		t.Fatalf("RequestPlan: %v", err)
	}
	if ap.Action != approvals.ActionPlanExecute || ap.Target != string(vocab.EntityDrivers) {
		t.Errorf("approval = %+v", ap)
	}
	if ap.ExpiresAt.Sub(ap.CreatedAt) != approvals.DefaultTTL {
		t.Errorf("ttl = %v", ap.ExpiresAt.Sub(ap.CreatedAt))
	}

	stored, err := as.Get(ctx, ap.ID)
	if err != nil {
		t.Fatal(err)
	}
	back, err := approvals.DecodePlan(stored)
	if err != nil {
		t.Fatalf("DecodePlan: %v", err)
	}
	if back.Description != p.Description || back.ExecutionAction != p.ExecutionAction || back.RequiresConfirmation != p.RequiresConfirmation {
		t.Errorf("decoded plan = %+v, want %+v", back, p)
	}
}

func TestGate_RequestCommand(t *testing.T) {
	as := newTestStore(t)
	g := approvals.NewGate(as, time.Minute)

	ap, err := g.Request(context.Background(), approvals.ActionPlaybookDelete, "pb1", []string{"pb1"}, nil, "@alice:example.com")
	if err != nil {
		t.Fatal(err)
	}
	params, err := approvals.DecodeParams(ap.ParamsJSON)
	if err != nil {
		t.Fatal(err)
	}
	if len(params.Args) != 1 || params.Args[0] != "pb1" || params.Flags == nil {
		t.Errorf("params = %+v", params)
	}
	if _, err := approvals.DecodePlan(ap); err == nil {
		t.Error("a command approval does not hold a plan")
	}
}

func TestIsGated(t *testing.T) {
	if !approvals.IsGated(approvals.ActionPlanExecute) || approvals.IsGated("playbooks.list") {
		t.Error("gated action table is wrong")
	}
}
