package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/icrrus-api/pkg/config"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

const (
	keyPrefix = "icrrus:lock:"
	// retryInterval is how often a contended key is polled.
	retryInterval = 25 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// NewRedis returns a configured Redis client.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// RedisLocker holds per-key locks in Redis so several API replicas can share
// the stage lock. Each holder writes a random token; release deletes the key
// only while the token still matches.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker builds a RedisLocker. ttl bounds how long a crashed holder
// can block a key.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// Key returns the redis key guarding name.
func Key(name string) string {
	return keyPrefix + name
}

// Acquire polls SET NX until it wins or ctx ends.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := Key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "acquire stage lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrLockBusy.Code, appErrors.ErrLockBusy.Status, appErrors.ErrLockBusy.Message)
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("release stage lock", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}, nil
}
