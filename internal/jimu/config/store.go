// Package config is a small key/value store for runtime state and
// operator-tunable knobs, kept in the SQLite config table.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/store"
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("config: key not found")

const (
	// KeyLastTick holds the RFC 3339 time of the last scheduler tick. It is
	// written by the ticker only.
	KeyLastTick = "scheduler.last_tick"
	// KeySchedulerPaused stops the ticker from running due routines while
	// "true".
	KeySchedulerPaused = "scheduler.paused"
)

// OperatorKeys lists the keys operators may set, in display order.
var OperatorKeys = []string{KeySchedulerPaused}

// IsOperatorKey reports whether operators may write key.
func IsOperatorKey(key string) bool {
	for _, k := range OperatorKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Store is the read/write interface for the config table. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set creates or overwrites key.
	Set(ctx context.Context, key string, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every pair. The map is empty, not nil, when there are none.
	List(ctx context.Context) (map[string]string, error)
}

type sqliteStore struct {
	db *store.Store
}

// New creates a Store backed by the application database.
func New(db *store.Store) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config: get %q: %w", key, err)
	}
	return value, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.DB().ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("config: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("config: list: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: list scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: list rows: %w", err)
	}
	return result, nil
}

// GetTime reads an RFC 3339 timestamp. A missing key yields the zero time
// and no error.
func GetTime(ctx context.Context, s Store, key string) (time.Time, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: %q is not a timestamp: %w", key, err)
	}
	return t, nil
}

// SetTime stores t as an RFC 3339 timestamp in UTC.
func SetTime(ctx context.Context, s Store, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339))
}

// GetBool reads a boolean knob. A missing key yields false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %q is not a boolean: %w", key, err)
	}
	return b, nil
}
