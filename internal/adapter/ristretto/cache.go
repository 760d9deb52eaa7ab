// Package ristretto is the in-process cache level, built on
// dgraph-io/ristretto.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/alextavares/aichat-sub001/internal/port/cache"
)

// Cache holds byte values in memory, bounded by their total size.
type Cache struct {
	store *ristretto.Cache[string, []byte]
}

var _ cache.Cache = (*Cache)(nil)

// New sizes the cache to maxMB megabytes of values. Ristretto wants about
// ten counters per expected entry; entries are assumed to average 1 KiB.
func New(maxMB int) (*Cache, error) {
	if maxMB <= 0 {
		return nil, fmt.Errorf("ristretto: size must be positive, got %d MB", maxMB)
	}
	budget := int64(maxMB) << 20
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: (budget >> 10) * 10,
		MaxCost:     budget,
		BufferItems: 64,
		Cost:        func(v []byte) int64 { return int64(len(v)) },
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{store: store}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.store.Get(key)
	return v, ok, nil
}

// Set copies value before storing it. Writes are admitted asynchronously
// and may be rejected under pressure, which reads as a later miss.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	c.store.SetWithTTL(key, append([]byte(nil), value...), 0, ttl)
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.store.Del(key)
	return nil
}

// Wait flushes pending writes. Tests use it to read their own writes.
func (c *Cache) Wait() { c.store.Wait() }

// Close stops ristretto's background goroutines.
func (c *Cache) Close() { c.store.Close() }
