package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reclamflow/feed/pkg/redis"
)

const defaultLockTTL = 25 * time.Second

// Lock coordinates exclusive runs across processes sharing one store.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NopLock always grants the run.
type NopLock struct{}

func (NopLock) Acquire(context.Context) (bool, error) { return true, nil }

func (NopLock) Release(context.Context) error { return nil }

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock implements Lock using Redis SETNX + TTL. The key is computed per
// acquisition so it can follow the signed-in user.
type RedisLock struct {
	client redisStore
	key    func() string
	ttl    time.Duration

	heldKey string
	owner   string
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client redisStore, key func() string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == nil {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	key := l.key()
	if key == "" {
		return false, errors.New("lock key is empty")
	}
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.heldKey = key
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	key, owner := l.heldKey, l.owner
	l.heldKey, l.owner = "", ""

	value, err := l.client.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != owner {
		return nil
	}
	if err := l.client.Del(ctx, key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
