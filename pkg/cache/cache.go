package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines the cache operations used by the pipeline.
type Service interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type  string // memory | redis
	Redis []RedisOption
	Mem   []MemoryOption
}

// New builds the configured backend.
func New(cfg Config) (Service, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(cfg.Mem...), nil
	case "redis":
		return NewRedisCache(cfg.Redis...)
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}
