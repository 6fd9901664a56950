package actions

import (
	"context"
	"fmt"

	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// StatusUpdateAction applies one bulk status change to every id.
type StatusUpdateAction struct {
	Store entities.Store
}

// NextStatus is the status a bulk update writes: populations selected as
// unpaid become paid, everything else becomes completed.
func NextStatus(filters vocab.Filters) string {
	if filters[vocab.FilterStatus] == "unpaid" {
		return StatusPaid
	}
	return StatusCompleted
}

// Handle implements Handler.
func (a *StatusUpdateAction) Handle(ctx context.Context, p plan.Plan, ids []string) (Result, error) {
	status := NextStatus(p.Filters)
	n, err := a.Store.BulkUpdateStatus(ctx, p.EntityType, ids, status)
	if err != nil {
		return Result{}, fmt.Errorf("bulk status update: %w", err)
	}
	return Result{
		Success:     true,
		AffectedIDs: ids,
		Message:     fmt.Sprintf("Updated %d %s to %s", n, p.EntityType, status),
	}, nil
}
