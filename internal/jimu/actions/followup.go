package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// FollowUpAction creates one deferred task per id.
type FollowUpAction struct {
	Store entities.Store
	Now   func() time.Time
}

// Handle implements Handler.
func (a *FollowUpAction) Handle(ctx context.Context, p plan.Plan, ids []string) (Result, error) {
	due := p.Schedule.Resolve(a.Now().Add(FollowUpLeadTime))

	records := make([]entities.Record, len(ids))
	for i, id := range ids {
		records[i] = entities.Record{
			"entity_type": string(p.EntityType),
			"entity_id":   id,
			"title":       "Follow up: " + p.Description,
			"due_at":      due,
			"status":      StatusPending,
		}
	}
	if _, err := a.Store.Insert(ctx, entities.TableTasks, records); err != nil {
		return Result{}, fmt.Errorf("create follow-up tasks: %w", err)
	}

	return Result{
		Success:     true,
		AffectedIDs: ids,
		Message:     fmt.Sprintf("Scheduled %s for %s", plural(len(ids), "follow-up"), due.Format(scheduleTimeLayout)),
	}, nil
}
