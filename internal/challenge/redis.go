// ABOUTME: Redis-backed Cache so several keyport instances share one challenge namespace
// ABOUTME: Expiry is delegated to Redis key TTLs; Take uses GETDEL

package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores keys in Redis under a fixed prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to addr and verifies the connection with PING.
func NewRedisCache(ctx context.Context, addr, password string, db int, prefix string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Set stores key with a Redis expiry of ttl.
func (c *RedisCache) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get reports whether key exists. Redis has already dropped expired keys.
func (c *RedisCache) Get(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Take deletes key with GETDEL (Redis 6.2+), which is atomic on the server.
func (c *RedisCache) Take(ctx context.Context, key string) (bool, error) {
	err := c.client.GetDel(ctx, c.key(key)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis getdel: %w", err)
	}
	return true, nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
