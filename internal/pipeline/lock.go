package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// Locker guards against overlapping runs. Acquire returns
// ioc.ErrRunInProgress when another run holds the lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLock is an in-process run lock.
type LocalLock struct {
	mu sync.Mutex
}

// Acquire takes the lock without waiting.
func (l *LocalLock) Acquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ioc.ErrRunInProgress
	}
	return l.mu.Unlock, nil
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a run lock shared by every process using the same redis.
// The TTL bounds how long a crashed holder can block other runs.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLock creates a redis-backed run lock.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisLock {
	if key == "" {
		key = "feedforge:pipeline:lock"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLock{client: client, key: key, ttl: ttl, logger: logger.Named("run_lock")}
}

// Acquire sets the lock key with SET NX PX.
func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		return nil, ioc.ErrRunInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.release(ctx, token)
	}, nil
}

// release drops the lock if token still owns it. A failed release leaves the
// key in place until its TTL runs out.
func (l *RedisLock) release(ctx context.Context, token string) {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
	if err != nil {
		l.logger.Warn("Failed to release run lock, it will expire after its TTL",
			zap.String("key", l.key),
			zap.Duration("ttl", l.ttl),
			zap.Error(err),
		)
		return
	}
	if deleted == 0 {
		l.logger.Warn("Run lock expired before release", zap.String("key", l.key))
	}
}
