package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	redisclient "github.com/civiclens/civiclens/backend/internal/infrastructure/clients/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	lockKeyPrefix     = "pipeline:lock:"
	lockRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks across API replicas with SET NX PX
type RedisLocker struct {
	client *redisclient.Client
}

var _ providers.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker backed by Redis
func NewRedisLocker(client *redisclient.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire polls until the key is set by us or ctx is done. The lock expires
// after ttl if the holder never releases it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.Client().SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// release must run even when the caller's context is gone
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client.Client(), []string{redisKey}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", redisKey).Msg("Failed to release lock")
		}
	}, nil
}
