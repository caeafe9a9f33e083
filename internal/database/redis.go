package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/config"
)

// RedisClient wraps redis.Client for caching and locking operations
type RedisClient struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// releaseScript deletes the lock only while it is still owned by the caller
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker provides named single-flight locks across processes
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
}

// NewRedisLocker creates a lock provider on top of a Redis client
func NewRedisLocker(client redis.Cmdable, prefix string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, logger: logger}
}

func (l *RedisLocker) key(name string) string {
	return fmt.Sprintf("%slock:%s", l.prefix, name)
}

// TryLock acquires the named lock for ttl. ok is false when another owner
// holds it. The returned unlock releases the lock only if still owned.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error) {
	key := l.key(name)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			// the lock stays held until ttl expires
			l.logger.Warn("Failed to release lock",
				zap.String("lock", name),
				zap.Duration("ttl", ttl),
				zap.Error(err))
		}
	}
	return unlock, true, nil
}
