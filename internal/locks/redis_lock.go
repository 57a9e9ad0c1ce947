// Package locks provides a Redis-backed distributed mutex used to serialize
// money-moving operations across process instances.
package locks

import (
	"context"
	"fmt"
	"log"
	"time"

	domain "corapay/internal/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "lock:"

	DefaultLease      = 30 * time.Second
	DefaultWaitBudget = 2 * time.Second
	DefaultRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the lock only if we still own it, so an expired
// lease taken over by another caller is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker runs fn while holding a named mutual-exclusion lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client     *redis.Client
	lease      time.Duration
	waitBudget time.Duration
	retryDelay time.Duration
}

// NewRedisLocker creates a Locker with the given lease timeout. The lease is
// the crash-tolerance bound: if the holder dies, the lock frees itself after
// the lease and a late write by the dead holder is rejected by the store's
// conditional status updates.
func NewRedisLocker(client *redis.Client, lease, waitBudget time.Duration) Locker {
	if client == nil {
		panic("redis client is required")
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	if waitBudget <= 0 {
		waitBudget = DefaultWaitBudget
	}
	return &redisLocker{
		client:     client,
		lease:      lease,
		waitBudget: waitBudget,
		retryDelay: DefaultRetryDelay,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	fullKey := keyPrefix + key

	if err := l.acquire(ctx, fullKey, token); err != nil {
		return err
	}
	defer l.release(fullKey, token)

	return fn(ctx)
}

// acquire retries SET NX with a short backoff until the wait budget runs out,
// then surfaces the contention as a retryable Locked error.
func (l *redisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.waitBudget)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return domain.ErrLocked.WithMessage(fmt.Sprintf("operation in progress for %s", key))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *redisLocker) release(key, token string) {
	// Release uses a fresh context: the caller's context may already be
	// cancelled and the lock should still be freed.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		log.Printf("failed to release lock %s: %v", key, err)
	}
}
