package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisCommonIDs is a common id registry in Redis. The first writer of a
// key wins; later callers read its id.
type RedisCommonIDs struct {
	client redis.Cmdable
	prefix string
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisCommonIDs returns a registry storing keys under prefix.
func NewRedisCommonIDs(client redis.Cmdable, prefix string) *RedisCommonIDs {
	if prefix == "" {
		prefix = "commonid:"
	}
	return &RedisCommonIDs{client: client, prefix: prefix}
}

// Resolve implements fields.CommonIDRegistry.
func (r *RedisCommonIDs) Resolve(ctx context.Context, key string) (string, error) {
	k := r.prefix + key

	id, err := r.client.Get(ctx, k).Result()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis get %s: %w", k, err)
	}

	if _, err := r.client.SetNX(ctx, k, uuid.NewString(), 0).Result(); err != nil {
		return "", fmt.Errorf("redis setnx %s: %w", k, err)
	}
	// read back whichever id won
	id, err = r.client.Get(ctx, k).Result()
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", k, err)
	}
	return id, nil
}
