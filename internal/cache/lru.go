package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRUProvider is a bounded in-process Provider with per-key expiry.
type LRUProvider struct {
	cache *lru.Cache[string, lruEntry]
	now   func() time.Time
}

// NewLRUProvider creates an LRU holding at most size keys.
func NewLRUProvider(size int) (*LRUProvider, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUProvider{cache: c, now: time.Now}, nil
}

// Get returns a copy of the stored bytes or ErrCacheMiss.
func (p *LRUProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := p.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && p.now().After(entry.expiresAt) {
		p.cache.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a copy of value; ttl <= 0 never expires.
func (p *LRUProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := lruEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = p.now().Add(ttl)
	}
	p.cache.Add(key, entry)
	return nil
}

// Del removes key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.cache.Remove(key)
	return nil
}

// Close purges the cache.
func (p *LRUProvider) Close() error {
	p.cache.Purge()
	return nil
}
