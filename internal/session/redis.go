package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the session lease with a shared Redis instance so the
// lease survives process restarts.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context) (string, bool, error) {
	secret, err := s.client.Get(ctx, secretKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session secret: %w", err)
	}
	return secret, true, nil
}

func (s *RedisStore) Set(ctx context.Context, secret string, ttl time.Duration) error {
	if err := s.client.Set(ctx, secretKey, secret, ttl).Err(); err != nil {
		return fmt.Errorf("set session secret: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, secretKey).Err(); err != nil {
		return fmt.Errorf("clear session secret: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
