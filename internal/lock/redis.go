package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker takes a SET NX PX lock per category so workers on different
// hosts share one writer per category. The TTL bounds how long a crashed
// holder blocks the category.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(rdb *redis.Client, prefix string, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl, wait: wait}
}

func (l *RedisLocker) key(category string) string { return l.prefix + keyFor(category) }

func (l *RedisLocker) Acquire(ctx context.Context, category string) (func(), error) {
	key := l.key(category)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, category)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	log.Debug().Str("category", category).Str("key", key).Msg("category lock acquired")

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("release category lock")
			}
		})
	}, nil
}
