// Package entities is the engine's view of the business record store: a
// query/update/insert contract over a fixed entity-to-table lookup.
package entities

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Jimu/internal/jimu/store"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// Tables written by the action handlers.
const (
	TableRoutes        = "routes"
	TableRouteStops    = "route_stops"
	TableTasks         = "tasks"
	TableNotifications = "notifications"
)

// DefaultQueryLimit bounds how many ids a filter query may resolve.
const DefaultQueryLimit = 200

// Record is one row to insert, keyed by column name.
type Record map[string]any

// Store is the contract the engine needs from the entity store.
type Store interface {
	// QueryIDs returns up to limit ids of entity rows matching filters.
	QueryIDs(ctx context.Context, entity vocab.EntityType, filters vocab.Filters, limit int) ([]string, error)
	// BulkUpdateStatus sets status on every id in one statement and returns
	// the number of rows changed.
	BulkUpdateStatus(ctx context.Context, entity vocab.EntityType, ids []string, status string) (int64, error)
	// Insert writes records into table and returns their ids in order. A
	// record without an "id" column gets a generated one.
	Insert(ctx context.Context, table string, records []Record) ([]string, error)
}

// Transactor is implemented by stores that can run several writes
// atomically.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

var entityTables = map[vocab.EntityType]string{
	vocab.EntityStores:      "stores",
	vocab.EntityInvoices:    "invoices",
	vocab.EntityDeliveries:  "deliveries",
	vocab.EntityRoutes:      "routes",
	vocab.EntityOrders:      "orders",
	vocab.EntityDrivers:     "drivers",
	vocab.EntityAmbassadors: "ambassadors",
	vocab.EntityCommissions: "commissions",
	vocab.EntityInventory:   "inventory",
}

var writableTables = map[string]bool{
	TableRoutes: true, TableRouteStops: true, TableTasks: true, TableNotifications: true,
}

// TableFor returns the table backing entity.
func TableFor(entity vocab.EntityType) (string, error) {
	t, ok := entityTables[entity]
	if !ok {
		return "", fmt.Errorf("no table for entity type %q", entity)
	}
	return t, nil
}

func insertable(table string) bool {
	if writableTables[table] {
		return true
	}
	for _, t := range entityTables {
		if t == table {
			return true
		}
	}
	return false
}

var columnRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore implements Store on the shared SQLite database.
type SQLStore struct {
	db  *store.Store
	q   querier
	now func() time.Time
}

// New returns a SQLStore over db.
func New(db *store.Store) *SQLStore {
	return &SQLStore{db: db, q: db.DB(), now: time.Now}
}

// InTx runs fn with a Store bound to one transaction.
func (s *SQLStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&SQLStore{db: s.db, q: tx, now: s.now})
	})
}

// QueryIDs implements Store.
func (s *SQLStore) QueryIDs(ctx context.Context, entity vocab.EntityType, filters vocab.Filters, limit int) ([]string, error) {
	table, err := TableFor(entity)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	where := []string{"1 = 1"}
	var args []any
	for _, key := range vocab.FilterKeys {
		v := filters[key]
		if v == "" {
			continue
		}
		switch key {
		case vocab.FilterLowStock:
			if v == "true" {
				where = append(where, "stock_level <= reorder_level")
			}
		default:
			where = append(where, fmt.Sprintf("LOWER(%s) = ?", key))
			args = append(args, strings.ToLower(v))
		}
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s ORDER BY created_at, id LIMIT ?`, table, strings.Join(where, " AND "))
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return ids, nil
}

// BulkUpdateStatus implements Store.
func (s *SQLStore) BulkUpdateStatus(ctx context.Context, entity vocab.EntityType, ids []string, status string) (int64, error) {
	table, err := TableFor(entity)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+2)
	args = append(args, status, s.now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id IN (%s)`, table, placeholders),
		args...)
	if err != nil {
		return 0, fmt.Errorf("update %s status: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s status: %w", table, err)
	}
	return n, nil
}

// Insert implements Store.
func (s *SQLStore) Insert(ctx context.Context, table string, records []Record) ([]string, error) {
	if !insertable(table) {
		return nil, fmt.Errorf("table %q is not writable", table)
	}

	ids := make([]string, 0, len(records))
	for i, rec := range records {
		row := make(Record, len(rec)+1)
		for k, v := range rec {
			row[k] = v
		}
		id, _ := row["id"].(string)
		if id == "" {
			id = uuid.NewString()
			row["id"] = id
		}

		cols := make([]string, 0, len(row))
		for c := range row {
			if !columnRe.MatchString(c) {
				return ids, fmt.Errorf("insert %s[%d]: invalid column %q", table, i, c)
			}
			cols = append(cols, c)
		}
		sort.Strings(cols)

		args := make([]any, len(cols))
		for j, c := range cols {
			args[j] = row[c]
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

		_, err := s.q.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(cols, ", "), placeholders),
			args...)
		if err != nil {
			return ids, fmt.Errorf("insert %s[%d]: %w", table, i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns how many rows of table reference a column value. It backs
// status reporting and tests.
func (s *SQLStore) Count(ctx context.Context, table, column, value string) (int, error) {
	if !insertable(table) || !columnRe.MatchString(column) {
		return 0, fmt.Errorf("cannot count %s.%s", table, column)
	}
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = ?`, table, column), value)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
	}
	return n, rows.Err()
}
