package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/j-veylop/limitwatch/internal/logger"
)

const keyPrefix = "limitwatch:"

// Redis is a cache shared between processes through a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the server at url (redis://[:password@]host:port/db)
// and verifies it answers.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisClient(client), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) makeKey(key string) string {
	return keyPrefix + key
}

// Get returns the value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.makeKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("redis cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value with the given expiry. A non-positive ttl removes the key.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		r.Delete(ctx, key)
		return
	}
	if err := r.client.Set(ctx, r.makeKey(key), value, ttl).Err(); err != nil {
		logger.Warn("redis cache set failed", "key", key, "error", err)
	}
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.makeKey(key)).Err(); err != nil {
		logger.Warn("redis cache delete failed", "key", key, "error", err)
	}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
