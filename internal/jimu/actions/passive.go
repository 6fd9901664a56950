package actions

import (
	"context"
	"fmt"

	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// ExportAction writes nothing. It tells the caller an extract of the ids is
// ready to be produced.
type ExportAction struct{}

// Handle implements Handler.
func (ExportAction) Handle(_ context.Context, p plan.Plan, ids []string) (Result, error) {
	return Result{
		Success:     true,
		AffectedIDs: ids,
		Message:     fmt.Sprintf("Export of %d %s ready", len(ids), p.EntityType),
	}, nil
}

// GenericAction reports success over the ids without touching them. Verbs
// without a dedicated handler land here.
type GenericAction struct{}

// Handle implements Handler.
func (GenericAction) Handle(_ context.Context, p plan.Plan, ids []string) (Result, error) {
	return Result{
		Success:     true,
		AffectedIDs: ids,
		Message:     fmt.Sprintf("Processed %d %s", len(ids), p.EntityType),
	}, nil
}
