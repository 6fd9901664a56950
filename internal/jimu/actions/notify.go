package actions

import (
	"context"
	"fmt"

	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// NotifyAction enqueues one pending notification per id. Delivery is done
// elsewhere.
type NotifyAction struct {
	Store entities.Store
}

// Handle implements Handler.
func (a *NotifyAction) Handle(ctx context.Context, p plan.Plan, ids []string) (Result, error) {
	records := make([]entities.Record, len(ids))
	for i, id := range ids {
		records[i] = entities.Record{
			"entity_type":      string(p.EntityType),
			"entity_id":        id,
			"suggested_action": string(p.ActionIntent),
			"reason":           p.InputText,
			"urgency":          DefaultUrgency,
			"status":           StatusPending,
		}
	}
	if _, err := a.Store.Insert(ctx, entities.TableNotifications, records); err != nil {
		return Result{}, fmt.Errorf("enqueue notifications: %w", err)
	}

	return Result{
		Success:     true,
		AffectedIDs: ids,
		Message:     fmt.Sprintf("Queued %s", plural(len(ids), "notification")),
	}, nil
}
