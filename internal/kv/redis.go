package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisOptions carries the connection knobs for a redis-backed namespace.
type RedisOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// RedisStore keeps the namespace in redis, for deployments where dashboard
// state is shared across devices.
type RedisStore struct {
	inner *redis.Client
}

// OpenRedis creates the client and verifies the connection.
func OpenRedis(opts RedisOptions) (*RedisStore, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{inner: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if s == nil || s.inner == nil {
		return "", errors.New("redis client not initialized")
	}
	v, err := s.inner.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if s == nil || s.inner == nil {
		return errors.New("redis client not initialized")
	}
	return s.inner.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if s == nil || s.inner == nil {
		return errors.New("redis client not initialized")
	}
	return s.inner.Del(ctx, key).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.inner == nil {
		return nil
	}
	return s.inner.Close()
}
