package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	redisKeyPrefix  = "devserver:prefs:"
)

// RedisStore keeps settings in Redis, for hosts that share one settings
// backend between the shell and its tooling.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Redis-backed settings store.
func NewRedisStore(url string) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, prefix: redisKeyPrefix}, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) GetString(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, ErrUnavailable
	}
	key, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) SetString(ctx context.Context, key, value string) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *RedisStore) GetBool(ctx context.Context, key string) (bool, bool, error) {
	raw, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("prefs %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) SetBool(ctx context.Context, key string, value bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(value))
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			full = append(full, s.prefix+key)
		}
	}
	if len(full) == 0 {
		return nil
	}
	return s.client.Del(ctx, full...).Err()
}
