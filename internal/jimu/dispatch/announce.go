package dispatch

import (
	"context"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// NotifierAnnouncer posts outcomes to the audit room.
type NotifierAnnouncer struct {
	Notifier audit.Notifier
}

// Announce implements Announcer.
func (a NotifierAnnouncer) Announce(ctx context.Context, p plan.Plan, r Result) {
	kind := audit.KindPlanExecuted
	if !r.Success {
		kind = audit.KindPlanFailed
	}
	a.Notifier.Notify(ctx, audit.Event{
		Kind:    kind,
		Actor:   trace.ActorFromContext(ctx),
		Target:  string(p.EntityType),
		Message: p.Description + ": " + r.Message,
	})
}
