package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultSingletonTTL = 30 * time.Minute

// RunLock coordinates optionally-exclusive worker runs. The queue's claim
// semantics already make concurrent workers safe; the lock only avoids wasted
// claim traffic when runs are scheduled on overlapping hosts.
type RunLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// lockStore defines the operations used by RedisRunLock.
type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisRunLock implements RunLock using Redis SETNX + TTL.
type RedisRunLock struct {
	client lockStore
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisRunLock constructs a Redis-backed run lock.
func NewRedisRunLock(client lockStore, key string, ttl time.Duration) (*RedisRunLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for run lock")
	}
	if key == "" {
		return nil, errors.New("run lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultSingletonTTL
	}
	return &RedisRunLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisRunLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisRunLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}
