package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionLockPrefix = "facepay:lock:"

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose lease ran out cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based mutex shared by every instance using the same
// Redis. A lease expires after ttl even if its holder dies.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		retry:  20 * time.Millisecond,
	}
}

// Acquire blocks until the lock for key is held or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := sessionLockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{lockKey}, token)
	}, nil
}
