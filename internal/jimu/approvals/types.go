// Package approvals holds plans and destructive commands until an operator
// confirms them.
//
// A plan that needs confirmation (a large explicit selection, or no
// selection and no filter at all) is stored as a pending Approval together
// with the exact plan that was shown. An operator then sends
// `approve <id>` or `deny <id> <reason>` in the admin room and the stored
// plan is executed or dropped.
package approvals

import (
	"encoding/json"
	"errors"
	"time"
)

// Status represents the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// DefaultTTL is how long a request stays pending.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned when no approval has the given ID.
	ErrNotFound = errors.New("approval not found")
	// ErrNotPending is returned when resolving an approval that was already
	// resolved or expired.
	ErrNotPending = errors.New("approval is no longer pending")
)

// Approval is a held request.
type Approval struct {
	// ID is a short random hex identifier operators type back.
	ID string
	// Action is the command key that was gated, e.g. "plan.execute".
	Action string
	// Target is the primary subject: entity type, playbook or routine ID.
	Target     string
	ParamsJSON string
	Requestor  string
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy *string
	// ResolveReason is the reason given on deny, if any.
	ResolveReason *string
}

// IsExpired reports whether a pending approval is past its deadline.
func (a *Approval) IsExpired() bool {
	return a.Status == StatusPending && time.Now().After(a.ExpiresAt)
}

// Params is what is needed to carry out the request after approval.
type Params struct {
	Args  []string          `json:"args,omitempty"`
	Flags map[string]string `json:"flags"`
	// Plan is the serialized plan for plan.execute requests.
	Plan json.RawMessage `json:"plan,omitempty"`
}
