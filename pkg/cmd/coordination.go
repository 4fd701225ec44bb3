package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/flowdef/pkg/codegen"
	"github.com/dukex/flowdef/pkg/lock"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockPrefix = "flowdef:lock:"
	redisCodeKey    = "flowdef:codes"
)

// NewRedisClient connects to redisURL, or returns nil when it is empty.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return redis.NewClient(opts), nil
}

// NewLocker shares locks through Redis when a client is configured and keeps them in process otherwise.
func NewLocker(client *redis.Client, logger *slog.Logger) lock.Locker {
	if client == nil {
		return lock.NewLocal(logger)
	}

	return lock.NewRedis(client, redisLockPrefix, logger)
}

// NewCodeGenerator draws codes from a Redis counter when a client is configured and from a
// snowflake generator for nodeID otherwise.
func NewCodeGenerator(client *redis.Client, nodeID int64) (codegen.Generator, error) {
	if client != nil {
		return codegen.NewRedis(client, redisCodeKey), nil
	}

	generator, err := codegen.NewSnowflake(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create code generator: %w", err)
	}

	return generator, nil
}
