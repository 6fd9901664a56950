package playbooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
)

// Store persists playbooks in the playbooks table.
type Store struct {
	db *sql.DB
}

// NewStore creates a playbook Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create stores a new playbook owned by owner.
func (s *Store) Create(ctx context.Context, owner, title, description string, steps []Step) (*Playbook, error) {
	title = strings.TrimSpace(title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	if err := s.checkTitle(ctx, owner, title, ""); err != nil {
		return nil, err
	}

	stepsJSON, err := marshalSteps(steps)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &Playbook{
		ID:          uuid.NewString(),
		Owner:       owner,
		Title:       title,
		Description: description,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO playbooks (id, owner, title, description, steps_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Owner, p.Title, p.Description, stepsJSON, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create playbook: %w", err)
	}
	return p, nil
}

// Update applies patch to the playbook and returns the updated playbook
// together with a unified diff of its steps (empty when unchanged).
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*Playbook, string, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	before := p.Steps

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if err := validateTitle(title); err != nil {
			return nil, "", err
		}
		if err := s.checkTitle(ctx, p.Owner, title, p.ID); err != nil {
			return nil, "", err
		}
		p.Title = title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Steps != nil {
		if err := validateSteps(patch.Steps); err != nil {
			return nil, "", err
		}
		p.Steps = patch.Steps
	}

	stepsJSON, err := marshalSteps(p.Steps)
	if err != nil {
		return nil, "", err
	}
	p.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE playbooks SET title = ?, description = ?, steps_json = ?, updated_at = ?
		WHERE id = ?
	`, p.Title, p.Description, stepsJSON, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to update playbook: %w", err)
	}

	diff, err := StepsDiff(p.Title, before, p.Steps)
	if err != nil {
		return nil, "", err
	}
	return p, diff, nil
}

// StepsDiff returns a unified diff between two step lists.
func StepsDiff(title string, before, after []Step) (string, error) {
	d := difflib.UnifiedDiff{
		A:        diffLines(before),
		B:        diffLines(after),
		FromFile: title + " (before)",
		ToFile:   title + " (after)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return "", fmt.Errorf("diff playbook steps: %w", err)
	}
	return text, nil
}

func diffLines(steps []Step) []string {
	lines := stepLines(steps)
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

// Delete removes a playbook. Routines referencing it are left alone.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playbooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete playbook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const playbookColumns = `id, owner, title, description, steps_json, created_at, updated_at`

// Get returns a playbook by ID.
func (s *Store) Get(ctx context.Context, id string) (*Playbook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playbookColumns+` FROM playbooks WHERE id = ?`, id)
	p, err := scanPlaybook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the playbooks of owner ordered by title. An empty owner
// lists every playbook.
func (s *Store) List(ctx context.Context, owner string) ([]*Playbook, error) {
	var rows *sql.Rows
	var err error
	if owner == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+playbookColumns+` FROM playbooks ORDER BY title, id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+playbookColumns+` FROM playbooks WHERE owner = ? ORDER BY title, id`, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list playbooks: %w", err)
	}
	defer rows.Close()

	var out []*Playbook
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playbooks: %w", err)
	}
	return out, nil
}

// Count returns the number of stored playbooks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM playbooks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count playbooks: %w", err)
	}
	return n, nil
}

func (s *Store) checkTitle(ctx context.Context, owner, title, exceptID string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM playbooks WHERE owner = ? AND title = ?`, owner, title).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && id == exceptID) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check playbook title: %w", err)
	}
	return fmt.Errorf("%w: %q", ErrTitleTaken, title)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlaybook(row rowScanner) (*Playbook, error) {
	p := &Playbook{}
	var stepsJSON string
	err := row.Scan(&p.ID, &p.Owner, &p.Title, &p.Description, &stepsJSON, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playbook: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of playbook %s: %w", p.ID, err)
	}
	return p, nil
}

func marshalSteps(steps []Step) (string, error) {
	if steps == nil {
		steps = []Step{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("failed to encode playbook steps: %w", err)
	}
	return string(b), nil
}
