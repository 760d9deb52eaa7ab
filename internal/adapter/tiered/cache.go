// Package tiered layers an in-process cache over a shared one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alextavares/aichat-sub001/internal/port/cache"
)

// Cache reads through l1 to l2 and writes to both. The shared level is best
// effort: its faults are logged and treated as misses, so a gateway replica
// keeps serving from memory when Redis or NATS is down. Faults in l1 are
// returned.
type Cache struct {
	l1, l2 cache.Cache
	// l1TTL bounds how stale a replica's copy can get.
	l1TTL time.Duration
	group singleflight.Group
}

var _ cache.Cache = (*Cache)(nil)

// New returns a tiered cache. A nil l2 gives an l1-only cache.
func New(l1, l2 cache.Cache, l1TTL time.Duration) *Cache {
	if l2 == nil {
		l2 = cache.Nop{}
	}
	return &Cache{l1: l1, l2: l2, l1TTL: l1TTL}
}

// Get serves from l1, falling back to l2 and copying hits into l1.
// Concurrent l2 lookups for one key share a single round trip.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.l1.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		val, ok, err := c.l2.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "shared cache read failed", "key", key, "error", err)
			return nil, nil
		}
		if !ok {
			return nil, nil
		}
		_ = c.l1.Set(ctx, key, val, c.l1TTL)
		return val, nil
	})
	if v == nil {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// Set stores value in both levels; l1 keeps it for at most l1TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.capL1(ttl)); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.WarnContext(ctx, "shared cache write failed", "key", key, "error", err)
	}
	return nil
}

// Delete invalidates both levels. Unlike reads and writes, an l2 failure is
// reported so callers know a stale copy may survive on other replicas.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}

func (c *Cache) capL1(ttl time.Duration) time.Duration {
	if c.l1TTL <= 0 {
		return ttl
	}
	if ttl <= 0 || ttl > c.l1TTL {
		return c.l1TTL
	}
	return ttl
}
