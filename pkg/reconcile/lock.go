package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CycleLock serializes reconciliation cycles across daemon replicas. The
// in-process mutex already guarantees single-flight within one process; the
// lock extends that guarantee to a fleet.
type CycleLock interface {
	// Acquire attempts to take the lock. It returns false when another
	// holder has it, plus a release func that must be called when held.
	Acquire(ctx context.Context) (bool, func(), error)
}

// RedisLock implements CycleLock with a SETNX key and TTL. The TTL is a
// crash guard: a replica that dies mid-cycle frees the fleet after at most
// one TTL, at the cost of one potentially concurrent cycle, which the
// mapping-lookup dedup absorbs.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a Redis-backed cycle lock.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = "onramp:reconcile:lock"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock if free.
func (l *RedisLock) Acquire(ctx context.Context) (bool, func(), error) {
	ok, err := l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	if !ok {
		return false, nil, nil
	}
	release := func() {
		// Best effort: the TTL reclaims the lock if this fails.
		_ = l.client.Del(context.Background(), l.key).Err()
	}
	return true, release, nil
}
