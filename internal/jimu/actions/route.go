package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Jimu/internal/jimu/entities"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// RouteAction creates one route, one stop per id in input order, and a
// dispatch task for the route. All three writes share a transaction when the
// store supports it.
type RouteAction struct {
	Store entities.Store
	Now   func() time.Time
}

// Handle implements Handler.
func (a *RouteAction) Handle(ctx context.Context, p plan.Plan, ids []string) (Result, error) {
	scheduled := p.Schedule.Resolve(a.Now().Add(RouteLeadTime))
	routeID := uuid.NewString()
	name := fmt.Sprintf("Route for %s", plural(len(ids), "stop"))

	err := inTx(ctx, a.Store, func(es entities.Store) error {
		_, err := es.Insert(ctx, entities.TableRoutes, []entities.Record{{
			"id":                 routeID,
			"name":               name,
			"status":             StatusPlanned,
			"brand":              p.Filters[vocab.FilterBrand],
			"region":             p.Filters[vocab.FilterRegion],
			"source_entity_type": string(p.EntityType),
			"scheduled_at":       scheduled,
		}})
		if err != nil {
			return fmt.Errorf("create route: %w", err)
		}

		stops := make([]entities.Record, len(ids))
		for i, id := range ids {
			stops[i] = entities.Record{
				"route_id":    routeID,
				"entity_type": string(p.EntityType),
				"entity_id":   id,
				"stop_order":  i + 1,
				"status":      StatusPending,
			}
		}
		if _, err := es.Insert(ctx, entities.TableRouteStops, stops); err != nil {
			return fmt.Errorf("create route stops: %w", err)
		}

		_, err = es.Insert(ctx, entities.TableTasks, []entities.Record{{
			"entity_type": entities.TableRoutes,
			"entity_id":   routeID,
			"route_id":    routeID,
			"title":       "Dispatch " + name,
			"due_at":      scheduled,
			"status":      StatusPending,
		}})
		if err != nil {
			return fmt.Errorf("create route task: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:     true,
		AffectedIDs: ids,
		Message:     fmt.Sprintf("Created route %s with %s scheduled for %s", routeID, plural(len(ids), "stop"), scheduled.Format(scheduleTimeLayout)),
	}, nil
}
