package routines

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
)

// store is the SQL persistence behind Scheduler.
type store struct {
	db *sql.DB
}

const routineColumns = `id, playbook_id, owner, frequency, cron_expr, next_run_at, last_run_at, active, notify_owner, created_at`

func (s *store) insert(ctx context.Context, r *Routine) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routines (`+routineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.PlaybookID, r.Owner, string(r.Frequency), r.CronExpr, r.NextRunAt,
		nullTime(r.LastRunAt), r.Active, r.NotifyOwner, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create routine: %w", err)
	}
	return nil
}

func (s *store) update(ctx context.Context, r *Routine) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE routines
		SET frequency = ?, cron_expr = ?, next_run_at = ?, last_run_at = ?, active = ?, notify_owner = ?
		WHERE id = ?
	`, string(r.Frequency), r.CronExpr, r.NextRunAt, nullTime(r.LastRunAt), r.Active, r.NotifyOwner, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update routine: %w", err)
	}
	return expectOne(res, r.ID)
}

func (s *store) delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete routine: %w", err)
	}
	return expectOne(res, id)
}

func (s *store) get(ctx context.Context, id string) (*Routine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+routineColumns+` FROM routines WHERE id = ?`, id)
	r, err := scanRoutine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

func (s *store) list(ctx context.Context, owner string) ([]*Routine, error) {
	if owner == "" {
		return s.query(ctx, `SELECT `+routineColumns+` FROM routines ORDER BY created_at, id`)
	}
	return s.query(ctx, `SELECT `+routineColumns+` FROM routines WHERE owner = ? ORDER BY created_at, id`, owner)
}

func (s *store) due(ctx context.Context, now time.Time) ([]*Routine, error) {
	return s.query(ctx, `SELECT `+routineColumns+`
		FROM routines WHERE active = 1 AND next_run_at <= ?
		ORDER BY next_run_at, id`, now)
}

func (s *store) count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count routines: %w", err)
	}
	return n, nil
}

func (s *store) query(ctx context.Context, q string, args ...any) ([]*Routine, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query routines: %w", err)
	}
	defer rows.Close()

	var out []*Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routines: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (*Routine, error) {
	r := &Routine{}
	var freq string
	var lastRun sql.NullTime
	err := row.Scan(&r.ID, &r.PlaybookID, &r.Owner, &freq, &r.CronExpr, &r.NextRunAt,
		&lastRun, &r.Active, &r.NotifyOwner, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan routine: %w", err)
	}
	r.Frequency = Frequency(freq)
	if lastRun.Valid {
		t := lastRun.Time
		r.LastRunAt = &t
	}
	return r, nil
}

const logColumns = `id, routine_id, playbook_id, run_at, status, step_results_json, error_message, total_affected`

func (s *store) insertLog(ctx context.Context, l *Log) error {
	results := l.StepResults
	if results == nil {
		results = []playbooks.StepResult{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode step results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routine_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.RoutineID, l.PlaybookID, l.RunAt, string(l.Status), string(b), nullString(l.ErrorMessage), l.TotalAffected)
	if err != nil {
		return fmt.Errorf("failed to write routine log: %w", err)
	}
	return nil
}

func (s *store) logs(ctx context.Context, routineID string, limit int) ([]*Log, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	if routineID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM routine_logs ORDER BY run_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM routine_logs WHERE routine_id = ? ORDER BY run_at DESC, id DESC LIMIT ?`, routineID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query routine logs: %w", err)
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		l := &Log{}
		var status, results string
		var errMsg sql.NullString
		if err := rows.Scan(&l.ID, &l.RoutineID, &l.PlaybookID, &l.RunAt, &status, &results, &errMsg, &l.TotalAffected); err != nil {
			return nil, fmt.Errorf("failed to scan routine log: %w", err)
		}
		l.Status = LogStatus(status)
		l.ErrorMessage = errMsg.String
		if err := json.Unmarshal([]byte(results), &l.StepResults); err != nil {
			return nil, fmt.Errorf("failed to decode step results of %s: %w", l.ID, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routine logs: %w", err)
	}
	return out, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
