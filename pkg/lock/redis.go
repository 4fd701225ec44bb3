package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`

// NewRedis returns a Locker whose keys are shared by every process using the same Redis.
func NewRedis(client redis.Cmdable, prefix string, logger *slog.Logger) Locker {
	return &redisLocker{client: client, prefix: prefix, logger: logger}
}

type redisLocker struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

func (r *redisLocker) NonBlockingSynchronized(ctx context.Context, key string, ttl time.Duration, f func(context.Context) error) error {
	if holding(ctx, key) {
		return f(ctx)
	}

	token := newToken()
	redisKey := r.prefix + key

	acquired, err := r.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return errors.WithMessagef(ErrLockFailed, "[redisLocker.NonBlockingSynchronized] key %s: %v", key, err)
	}

	if !acquired {
		return errors.WithMessagef(ErrLocked, "[redisLocker.NonBlockingSynchronized] key %s", key)
	}

	defer r.release(redisKey, token)

	return f(withHeld(ctx, key, token))
}

// release uses a fresh context: the caller's may already be cancelled.
func (r *redisLocker) release(redisKey, token string) {
	reply, err := r.client.Eval(context.Background(), releaseScript, []string{redisKey}, token).Int64()
	if err != nil {
		r.logger.Error("failed to release lock", "key", redisKey, "error", err)

		return
	}

	if reply != 1 {
		r.logger.Warn("lock expired before release", "key", redisKey)
	}
}
