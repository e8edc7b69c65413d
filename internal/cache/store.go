// Package cache provides small TTL key/value stores used to memoize search
// provider responses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a JSON-valued key/value cache.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Get decodes the cached value into dest or returns ErrMiss.
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Config selects a cache backend.
type Config struct {
	Type     string // "memory" | "redis"
	RedisURL string
	Prefix   string
}

// New builds a Store for cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
