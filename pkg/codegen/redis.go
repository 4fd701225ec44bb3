package codegen

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the counter key used by Redis generators.
const DefaultRedisKey = "flowdef:codes"

// redisCodeOffset keeps counter-issued codes clear of the small integers used as task
// placeholders in requests.
const redisCodeOffset int64 = 1 << 32

// Redis allocates codes from a shared counter, so every process pointing at the same server
// draws from one sequence.
type Redis struct {
	client redis.Cmdable
	key    string
}

// NewRedis creates a generator backed by INCR on key.
func NewRedis(client redis.Cmdable, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}

	return &Redis{client: client, key: key}
}

// NewCode returns the next code.
func (r *Redis) NewCode(ctx context.Context) (int64, error) {
	value, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment code counter %s: %w", r.key, err)
	}

	return redisCodeOffset + value, nil
}
