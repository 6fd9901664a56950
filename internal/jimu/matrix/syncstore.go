package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*SyncStore)(nil)

const (
	stateFilterID  = "filter_id"
	stateNextBatch = "next_batch"
)

// SyncStore persists the /sync position in the matrix_sync_state table so a
// restarted bot does not replay commands it already handled.
type SyncStore struct {
	db *sql.DB
}

// NewSyncStore returns a SyncStore over db. The migrations must already be
// applied.
func NewSyncStore(db *sql.DB) *SyncStore {
	return &SyncStore{db: db}
}

// SaveFilterID implements mautrix.SyncStore.
func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.put(ctx, userID, stateFilterID, filterID)
}

// LoadFilterID implements mautrix.SyncStore. A missing value is "".
func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID, stateFilterID)
}

// SaveNextBatch implements mautrix.SyncStore.
func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, token string) error {
	return s.put(ctx, userID, stateNextBatch, token)
}

// LoadNextBatch implements mautrix.SyncStore. A missing value is "".
func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID, stateNextBatch)
}

func (s *SyncStore) put(ctx context.Context, userID id.UserID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`, userID.String(), key, value)
	if err != nil {
		return fmt.Errorf("save sync %s: %w", key, err)
	}
	return nil
}

func (s *SyncStore) get(ctx context.Context, userID id.UserID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?`,
		userID.String(), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load sync %s: %w", key, err)
	}
	return value, nil
}
