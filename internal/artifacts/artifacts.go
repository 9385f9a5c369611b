package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/miradorstack/mirador-incident/internal/cache"
	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/models"
)

// FileStore writes each artifact to <dir>/<name>.json, replacing it atomically.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes data to a temp file and renames it over the previous artifact.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("replace artifact %s: %w", name, err)
	}
	return nil
}

// Get returns the stored bytes, or models.ErrNoResults if the artifact was never written.
func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.ErrNoResults
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

const keyPrefix = "mirador:incident:artifact:"

// CacheStore keeps artifacts in a cache provider under a fixed key prefix.
type CacheStore struct {
	provider cache.Provider
	ttl      time.Duration
}

// NewCacheStore wraps provider; ttl <= 0 keeps artifacts until overwritten.
func NewCacheStore(provider cache.Provider, ttl time.Duration) *CacheStore {
	return &CacheStore{provider: provider, ttl: ttl}
}

// Put stores the artifact bytes.
func (s *CacheStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.provider.Set(ctx, keyPrefix+name, data, s.ttl); err != nil {
		return fmt.Errorf("cache artifact %s: %w", name, err)
	}
	return nil
}

// Get maps a cache miss to models.ErrNoResults.
func (s *CacheStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.provider.Get(ctx, keyPrefix+name)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, models.ErrNoResults
	}
	if err != nil {
		return nil, fmt.Errorf("read cached artifact %s: %w", name, err)
	}
	return data, nil
}

// Close releases the provider.
func (s *CacheStore) Close() error {
	return s.provider.Close()
}

// Store is the artifact store contract.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// Open selects the artifact store from configuration.
func Open(cfg config.ArtifactsConfig, cacheCfg config.CacheConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", "file":
		store, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		logger.Info("artifact store ready", "driver", "file", "dir", cfg.Dir)
		return store, nil
	case "cache":
		logger.Info("artifact store ready", "driver", "cache")
		return NewCacheStore(cache.New(cacheCfg, logger), cacheCfg.ArtifactTTL), nil
	default:
		return nil, fmt.Errorf("unknown artifacts driver %q", cfg.Driver)
	}
}
