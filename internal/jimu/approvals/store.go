package approvals

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Store persists approvals.
type Store struct {
	db *sql.DB
}

// NewStore creates an approvals Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// generateID returns 6 random bytes as 12 hex characters.
func generateID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate approval ID: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

const maxIDRetries = 3

// Create stores a pending approval, retrying on the rare ID collision.
func (s *Store) Create(ctx context.Context, action, target, paramsJSON, requestor string, ttl time.Duration) (*Approval, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	var lastErr error
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id, err := generateID()
		if err != nil {
			return nil, err
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO approvals (id, action, target, params_json, requestor, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
		`, id, action, target, paramsJSON, requestor, now, expiresAt)
		if err != nil {
			lastErr = err
			continue
		}

		return &Approval{
			ID:         id,
			Action:     action,
			Target:     target,
			ParamsJSON: paramsJSON,
			Requestor:  requestor,
			Status:     StatusPending,
			CreatedAt:  now,
			ExpiresAt:  expiresAt,
		}, nil
	}
	return nil, fmt.Errorf("failed to create approval after %d attempts: %w", maxIDRetries, lastErr)
}

const approvalColumns = `id, action, target, params_json, requestor, status,
	created_at, expires_at, resolved_at, resolved_by, resolve_reason`

// Get retrieves an approval by ID.
func (s *Store) Get(ctx context.Context, id string) (*Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return a, nil
}

// List returns up to 100 approvals with the given status, newest first. An
// empty status lists all of them.
func (s *Store) List(ctx context.Context, status Status) ([]*Approval, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approvals ORDER BY created_at DESC LIMIT 100`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE status = ? ORDER BY created_at DESC LIMIT 100`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	a := &Approval{}
	var status string
	var resolvedAt sql.NullTime
	var resolvedBy, reason sql.NullString
	if err := row.Scan(&a.ID, &a.Action, &a.Target, &a.ParamsJSON, &a.Requestor, &status,
		&a.CreatedAt, &a.ExpiresAt, &resolvedAt, &resolvedBy, &reason); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.String
	}
	if reason.Valid {
		a.ResolveReason = &reason.String
	}
	return a, nil
}

func (s *Store) resolve(ctx context.Context, id string, newStatus Status, resolver, reason string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, resolved_at = ?, resolved_by = ?, resolve_reason = ?
		WHERE id = ? AND status = 'pending' AND expires_at >= ?
	`, string(newStatus), now, resolver, reason, id, now)
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		existing, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing.IsExpired() {
			return fmt.Errorf("%w: %s expired at %s", ErrNotPending, id, existing.ExpiresAt.Format(time.RFC3339))
		}
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, existing.Status)
	}
	return nil
}

// Approve marks a pending approval approved.
func (s *Store) Approve(ctx context.Context, id, approver, reason string) error {
	return s.resolve(ctx, id, StatusApproved, approver, reason)
}

// Deny marks a pending approval denied.
func (s *Store) Deny(ctx context.Context, id, denier, reason string) error {
	return s.resolve(ctx, id, StatusDenied, denier, reason)
}

// Cancel withdraws a pending approval.
func (s *Store) Cancel(ctx context.Context, id, canceller, reason string) error {
	return s.resolve(ctx, id, StatusCancelled, canceller, reason)
}

// ExpireStale marks overdue pending approvals expired and returns how many
// changed.
func (s *Store) ExpireStale(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = 'expired', resolved_at = ?
		WHERE status = 'pending' AND expires_at < ?
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale approvals: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}
