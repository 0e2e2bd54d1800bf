package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps every property as a field of one redis hash.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, hashKey string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return NewRedisFromClient(client, hashKey), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, hashKey string) *Redis {
	if hashKey == "" {
		hashKey = DefaultRedisKey
	}
	return &Redis{client: client, key: hashKey}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s/%s: %w", r.key, key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s/%s: %w", r.key, key, err)
	}
	return nil
}

func (r *Redis) DeleteAll(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) All(ctx context.Context) (map[string]string, error) {
	props, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", r.key, err)
	}
	return props, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
