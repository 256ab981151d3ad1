// Package lock implements the named exclusive lock used to serialize pod
// commands and background jobs. Locks live in Redis with an optional TTL and
// can carry a JSON payload of operation metadata. A Lock handle is plain data
// and marshals to JSON, so it can be shipped to an asynchronous worker that
// releases it when the job completes.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes, shared with the legacy deployment.
const (
	keyPrefix        = "kd.exclusivelock."
	payloadKeyPrefix = "kd.exclusivelock-payload."
)

// blockingPollInterval is how often a blocking Acquire retries.
const blockingPollInterval = 200 * time.Millisecond

var (
	// ErrLocked is returned by a non-blocking acquire when another holder
	// owns the lock.
	ErrLocked = errors.New("lock is already held")

	// ErrNotHeld is returned on release or refresh when the lock is gone or
	// owned by someone else. For TTL-bearing locks this means the TTL
	// expired while the handler was still running; callers must treat it as
	// a programming error and log it loudly.
	ErrNotHeld = errors.New("lock is not held by this token")
)

// Lock is a serializable handle for a held lock.
type Lock struct {
	Name  string        `json:"name"`
	Token string        `json:"token"`
	TTL   time.Duration `json:"ttl"`
}

// Manager acquires and releases named locks against one Redis instance.
type Manager struct {
	rdb *redis.Client
}

// NewManager creates a lock manager.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// releaseScript deletes the lock and its payload only if the caller still
// holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	redis.call("del", KEYS[1])
	redis.call("del", KEYS[2])
	return 1
end
return 0
`)

// refreshScript extends the TTL of the lock and payload keys for the holder.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	redis.call("pexpire", KEYS[1], ARGV[2])
	if redis.call("exists", KEYS[2]) == 1 then
		redis.call("pexpire", KEYS[2], ARGV[2])
	end
	return 1
end
return 0
`)

// Acquire takes the named lock without blocking. ttl of zero means the lock
// never expires and must be released explicitly.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	token := uuid.New().String()
	ok, err := m.rdb.SetNX(ctx, keyPrefix+name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %q: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{Name: name, Token: token, TTL: ttl}, nil
}

// AcquireBlocking polls until the lock is taken or ctx is done.
func (m *Manager) AcquireBlocking(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	for {
		l, err := m.Acquire(ctx, name, ttl)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(blockingPollInterval):
		}
	}
}

// Release frees the lock if the handle still owns it.
func (m *Manager) Release(ctx context.Context, l *Lock) error {
	res, err := releaseScript.Run(ctx, m.rdb,
		[]string{keyPrefix + l.Name, payloadKeyPrefix + l.Name}, l.Token).Int()
	if err != nil {
		return fmt.Errorf("releasing lock %q: %w", l.Name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Refresh extends the lock's TTL from now. No-op error for expired locks.
func (m *Manager) Refresh(ctx context.Context, l *Lock) error {
	if l.TTL <= 0 {
		return nil
	}
	res, err := refreshScript.Run(ctx, m.rdb,
		[]string{keyPrefix + l.Name, payloadKeyPrefix + l.Name},
		l.Token, l.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refreshing lock %q: %w", l.Name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// SetPayload attaches JSON metadata to the lock. An existing TTL on the
// payload key is preserved (SET KEEPTTL); a fresh payload key inherits the
// lock key's remaining TTL so both expire together.
func (m *Manager) SetPayload(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling lock payload: %w", err)
	}
	key := payloadKeyPrefix + name

	hadTTL, err := m.rdb.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("checking payload TTL: %w", err)
	}
	if err := m.rdb.SetArgs(ctx, key, raw, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		return fmt.Errorf("setting lock payload: %w", err)
	}
	if hadTTL > 0 {
		return nil
	}

	// New payload key: mirror the lock key's expiry if it has one.
	lockTTL, err := m.rdb.TTL(ctx, keyPrefix+name).Result()
	if err != nil {
		return fmt.Errorf("checking lock TTL: %w", err)
	}
	if lockTTL > 0 {
		if err := m.rdb.PExpire(ctx, key, lockTTL).Err(); err != nil {
			return fmt.Errorf("expiring lock payload: %w", err)
		}
	}
	return nil
}

// GetPayload reads the JSON metadata into dst. Returns false if no payload
// is set.
func (m *Manager) GetPayload(ctx context.Context, name string, dst any) (bool, error) {
	raw, err := m.rdb.Get(ctx, payloadKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting lock payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("unmarshaling lock payload: %w", err)
	}
	return true, nil
}

// IsHeld reports whether anyone currently holds the named lock.
func (m *Manager) IsHeld(ctx context.Context, name string) (bool, error) {
	n, err := m.rdb.Exists(ctx, keyPrefix+name).Result()
	if err != nil {
		return false, fmt.Errorf("checking lock %q: %w", name, err)
	}
	return n > 0, nil
}
