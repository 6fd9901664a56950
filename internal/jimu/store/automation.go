package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AutomationStatus is the lifecycle state of an automation log entry.
type AutomationStatus string

const (
	AutomationPlanned  AutomationStatus = "planned"
	AutomationExecuted AutomationStatus = "executed"
	AutomationError    AutomationStatus = "error"
)

// Terminal reports whether s is a final state.
func (s AutomationStatus) Terminal() bool {
	return s == AutomationExecuted || s == AutomationError
}

var (
	// ErrAutomationNotFound is returned when no entry has the given ID.
	ErrAutomationNotFound = errors.New("automation log entry not found")
	// ErrAlreadyFinished is returned when an entry already left the planned
	// state.
	ErrAlreadyFinished = errors.New("automation log entry already finished")
)

// AutomationLog records one executed plan. Rows are created planned before
// any side effect and finished exactly once.
type AutomationLog struct {
	ID           string
	InputText    string
	ParsedPlan   string
	Status       AutomationStatus
	EntityType   string
	EntityIDs    []string
	ErrorMessage string
	TraceID      string
	Actor        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BeginAutomation inserts e in the planned state. ID, Status and timestamps
// are filled in on e.
func (s *Store) BeginAutomation(ctx context.Context, e *AutomationLog) error {
	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.Status = AutomationPlanned
	e.CreatedAt = now
	e.UpdatedAt = now

	ids, err := marshalIDs(e.EntityIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_logs (id, input_text, parsed_plan, status, entity_type, entity_ids, trace_id, actor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.InputText, e.ParsedPlan, string(e.Status), e.EntityType, ids, e.TraceID, e.Actor, now, now)
	if err != nil {
		return fmt.Errorf("failed to write automation log: %w", err)
	}
	return nil
}

// FinishAutomation moves a planned entry to its terminal status. A second
// call for the same entry returns ErrAlreadyFinished.
func (s *Store) FinishAutomation(ctx context.Context, id string, status AutomationStatus, entityIDs []string, errorMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	ids, err := marshalIDs(entityIDs)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_logs
		SET status = ?, entity_ids = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'planned'
	`, string(status), ids, nullString(errorMsg), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish automation log: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetAutomation(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyFinished
	}
	return nil
}

const automationColumns = `id, input_text, parsed_plan, status, entity_type, entity_ids, error_message, trace_id, actor, created_at, updated_at`

// GetAutomation returns one entry by ID.
func (s *Store) GetAutomation(ctx context.Context, id string) (*AutomationLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automation_logs WHERE id = ?`, id)
	e, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAutomationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListAutomation returns the most recent entries, newest first.
func (s *Store) ListAutomation(ctx context.Context, limit int) ([]*AutomationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryAutomation(ctx, `SELECT `+automationColumns+`
		FROM automation_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// AutomationByTrace returns every entry written under traceID, oldest first.
func (s *Store) AutomationByTrace(ctx context.Context, traceID string) ([]*AutomationLog, error) {
	return s.queryAutomation(ctx, `SELECT `+automationColumns+`
		FROM automation_logs WHERE trace_id = ? ORDER BY created_at ASC`, traceID)
}

func (s *Store) queryAutomation(ctx context.Context, query string, args ...any) ([]*AutomationLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation logs: %w", err)
	}
	defer rows.Close()

	var out []*AutomationLog
	for rows.Next() {
		e, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automation logs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*AutomationLog, error) {
	e := &AutomationLog{}
	var status, ids string
	var errMsg sql.NullString
	err := row.Scan(&e.ID, &e.InputText, &e.ParsedPlan, &status, &e.EntityType, &ids,
		&errMsg, &e.TraceID, &e.Actor, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan automation log: %w", err)
	}
	e.Status = AutomationStatus(status)
	e.ErrorMessage = errMsg.String
	if err := json.Unmarshal([]byte(ids), &e.EntityIDs); err != nil {
		return nil, fmt.Errorf("failed to decode entity ids of %s: %w", e.ID, err)
	}
	return e, nil
}

func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode entity ids: %w", err)
	}
	return string(b), nil
}
