// Package actions holds the fixed set of handlers a plan can dispatch to.
//
// Every handler receives the plan and the resolved entity ids and reports a
// Result. Handlers never deduplicate: running the same plan twice creates
// new records twice.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// Defaults used when the plan carries no schedule.
const (
	RouteLeadTime    = 24 * time.Hour
	FollowUpLeadTime = 7 * 24 * time.Hour

	DefaultUrgency     = "medium"
	StatusPending      = "pending"
	StatusPlanned      = "planned"
	StatusPaid         = "paid"
	StatusCompleted    = "completed"
	scheduleTimeLayout = "2006-01-02 15:04"
)

// Result is what a handler reports back to the dispatcher.
type Result struct {
	Success     bool
	AffectedIDs []string
	Message     string
}

// Handler performs one action family. A returned error means the handler
// failed; the dispatcher records it and reports a failed result.
type Handler interface {
	Handle(ctx context.Context, p plan.Plan, ids []string) (Result, error)
}

// Set maps execution actions to handlers. The set of variants is closed;
// anything unknown runs through GenericAction.
type Set struct {
	route    *RouteAction
	followUp *FollowUpAction
	notify   *NotifyAction
	status   *StatusUpdateAction
	export   *ExportAction
	generic  *GenericAction
}

// NewSet builds the handlers over es. A nil now uses time.Now.
func NewSet(es entities.Store, now func() time.Time) *Set {
	if now == nil {
		now = time.Now
	}
	return &Set{
		route:    &RouteAction{Store: es, Now: now},
		followUp: &FollowUpAction{Store: es, Now: now},
		notify:   &NotifyAction{Store: es},
		status:   &StatusUpdateAction{Store: es},
		export:   &ExportAction{},
		generic:  &GenericAction{},
	}
}

// For returns the handler for a.
func (s *Set) For(a vocab.ExecutionAction) Handler {
	switch a {
	case vocab.ActionCreateRoute:
		return s.route
	case vocab.ActionScheduleFollowUp:
		return s.followUp
	case vocab.ActionSendNotification:
		return s.notify
	case vocab.ActionUpdateStatus:
		return s.status
	case vocab.ActionExport:
		return s.export
	default:
		return s.generic
	}
}

// inTx runs fn in a transaction when es supports one, directly otherwise.
func inTx(ctx context.Context, es entities.Store, fn func(entities.Store) error) error {
	if tx, ok := es.(entities.Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(es)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
