package redis

import (
	"context"
	"fmt"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// EntityLocker hands out short per-entity locks so two workers never sync the
// same account concurrently. This does not order deliveries; it only prevents
// overlapping syncs of one entity.
type EntityLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEntityLocker(client *redis.Client, ttl time.Duration) *EntityLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &EntityLocker{client: client, ttl: ttl}
}

// Lock acquires the entity lock or fails with ErrLockBusy when another worker
// holds it. The TTL bounds how long a crashed worker can hold an entity.
func (l *EntityLocker) Lock(ctx context.Context, entityID string) (appsync.Unlocker, error) {
	lock := &entityLock{
		client: l.client,
		key:    fmt.Sprintf("lock:account:%s", entityID),
		value:  uuid.New().String(),
	}

	ok, err := l.client.SetNX(ctx, lock.key, lock.value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire entity lock: %w", err)
	}
	if !ok {
		return nil, domainErrors.ErrLockBusy
	}
	return lock, nil
}

type entityLock struct {
	client *redis.Client
	key    string
	value  string
}

// Unlock releases the lock if this worker still owns it.
func (l *entityLock) Unlock(ctx context.Context) error {
	result, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release entity lock: %w", err)
	}
	if val, ok := result.(int64); !ok || val == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}
