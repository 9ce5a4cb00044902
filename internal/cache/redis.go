package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func resultKey(key string) string { return "taskpool:result:" + key }

// Redis is a Cache backend shared between manager instances. Redis expires
// entries itself, so reads never see stale results.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// NewClient creates a Redis client with conservative timeouts.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, resultKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get result %s: %w", key, err)
	}
	return data, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, result []byte) error {
	if err := c.client.Set(ctx, resultKey(key), result, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set result %s: %w", key, err)
	}
	return nil
}
