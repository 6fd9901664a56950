// Package scopelock provides an optional advisory lock around plan
// execution, keyed by entity type and the scope the plan selects. Two
// executions over the same scope cannot run at once while a lock is held.
// Without a configured locker execution is lock-free.
package scopelock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// ErrHeld is returned by Acquire when another execution holds the scope.
var ErrHeld = errors.New("scope is locked by another execution")

// DefaultTTL bounds how long a crashed holder can block a scope.
const DefaultTTL = 2 * time.Minute

// ReleaseFunc releases an acquired lock.
type ReleaseFunc func(ctx context.Context) error

// Locker acquires scope locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// Key derives the lock key for p: the entity type plus a digest of the
// explicit selection, or of the filters when nothing was selected.
func Key(p plan.Plan) string {
	var scope string
	if len(p.SelectedIDs) > 0 {
		ids := append([]string(nil), p.SelectedIDs...)
		sort.Strings(ids)
		sum := sha256.Sum256([]byte(strings.Join(ids, "\x00")))
		scope = "ids:" + hex.EncodeToString(sum[:8])
	} else {
		scope = "filters:" + p.Filters.Hash()
	}
	return fmt.Sprintf("jimu:scope:%s:%s", p.EntityType, scope)
}

// None never blocks.
type None struct{}

// Acquire implements Locker.
func (None) Acquire(context.Context, string, time.Duration) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// Memory is an in-process Locker, used where contention must be simulated.
type Memory struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]time.Time), clock: time.Now}
}

// Acquire implements Locker.
func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if exp, ok := m.held[key]; ok && now.Before(exp) {
		return nil, ErrHeld
	}
	m.held[key] = now.Add(ttl)
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
		return nil
	}, nil
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release,
// so a holder whose lock expired cannot release someone else's.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker connects to the Redis server at addr.
func NewRedisLocker(addr, password string, db int) *RedisLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLocker{client: rdb}
}

// Ping checks connectivity.
func (l *RedisLocker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis unlock %s: %w", key, err)
		}
		return nil
	}, nil
}
