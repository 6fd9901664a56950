package approvals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// Gated action keys.
const (
	ActionPlanExecute    = "plan.execute"
	ActionPlaybookDelete = "playbooks.delete"
	ActionRoutineDelete  = "routines.delete"
)

var gatedActions = map[string]bool{
	ActionPlanExecute:    true,
	ActionPlaybookDelete: true,
	ActionRoutineDelete:  true,
}

// IsGated reports whether action needs an approval.
func IsGated(action string) bool {
	return gatedActions[action]
}

// Gate creates approval requests.
type Gate struct {
	store *Store
	ttl   time.Duration
}

// NewGate returns a Gate over store. A zero ttl means DefaultTTL.
func NewGate(store *Store, ttl time.Duration) *Gate {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Gate{store: store, ttl: ttl}
}

// Store returns the underlying approvals Store.
func (g *Gate) Store() *Store {
	return g.store
}

// Request holds a gated command.
func (g *Gate) Request(ctx context.Context, action, target string, args []string, flags map[string]string, requestor string) (*Approval, error) {
	return g.create(ctx, action, target, Params{Args: args, Flags: flags}, requestor)
}

// RequestPlan holds p for confirmation. The exact plan is executed on
// approval; it is not re-planned.
func (g *Gate) RequestPlan(ctx context.Context, p plan.Plan, requestor string) (*Approval, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize plan: %w", err)
	}
	return g.create(ctx, ActionPlanExecute, string(p.EntityType), Params{Plan: raw}, requestor)
}

func (g *Gate) create(ctx context.Context, action, target string, params Params, requestor string) (*Approval, error) {
	if params.Flags == nil {
		params.Flags = make(map[string]string)
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize approval params: %w", err)
	}
	return g.store.Create(ctx, action, target, string(b), requestor, g.ttl)
}

// DecodeParams deserializes an approval's ParamsJSON.
func DecodeParams(paramsJSON string) (*Params, error) {
	var p Params
	if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
		return nil, fmt.Errorf("failed to decode approval params: %w", err)
	}
	if p.Flags == nil {
		p.Flags = make(map[string]string)
	}
	return &p, nil
}

// DecodePlan returns the plan held by a plan.execute approval.
func DecodePlan(a *Approval) (plan.Plan, error) {
	var p plan.Plan
	if a.Action != ActionPlanExecute {
		return p, fmt.Errorf("approval %s holds %s, not a plan", a.ID, a.Action)
	}
	params, err := DecodeParams(a.ParamsJSON)
	if err != nil {
		return p, err
	}
	if len(params.Plan) == 0 {
		return p, fmt.Errorf("approval %s carries no plan", a.ID)
	}
	if err := json.Unmarshal(params.Plan, &p); err != nil {
		return p, fmt.Errorf("failed to decode held plan: %w", err)
	}
	return p, nil
}

// CheckExpiry expires stale approvals and returns how many changed.
func (g *Gate) CheckExpiry(ctx context.Context) (int64, error) {
	return g.store.ExpireStale(ctx)
}
