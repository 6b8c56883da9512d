// Package redis persists local state in Redis, one string key per named entry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"petri/pkg/domain"
)

var _ domain.KeyValueStore = (*Store)(nil)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, letting devices share one Redis.
	Prefix string
}

// Store wraps the Redis client.
type Store struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "petri:"
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.String("prefix", prefix))
	return &Store{rdb: rdb, prefix: prefix, logger: logger}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

// Get returns the payload stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores the payload under key without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error { return s.rdb.Close() }

// Redis returns the underlying client for advanced operations.
func (s *Store) Redis() *redis.Client { return s.rdb }
