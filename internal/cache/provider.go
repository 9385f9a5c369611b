package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incident/internal/config"
)

// Provider defines the minimal cache operations used for artifact storage.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }

// New selects the cache provider. A configured Valkey address that answers PING wins;
// otherwise an in-process LRU is used.
func New(cfg config.CacheConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Enabled && cfg.Addr != "" {
		provider, err := NewValkeyProvider(cfg)
		if err == nil {
			logger.Info("valkey cache connected", "addr", cfg.Addr)
			return provider
		}
		logger.Warn("valkey cache unavailable, using in-process LRU", "addr", cfg.Addr, "error", err)
	}
	provider, err := NewLRUProvider(cfg.LRUSize)
	if err != nil {
		logger.Warn("lru cache disabled", "error", err)
		return NoopProvider{}
	}
	return provider
}
