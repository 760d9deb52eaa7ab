// Package natskv implements the cache port on a NATS JetStream key-value
// bucket, shared by every gateway replica attached to the cluster.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alextavares/aichat-sub001/internal/port/cache"
)

// headerLen is the expiry stamp in front of every stored value.
const headerLen = 8

// Cache stores entries in a KV bucket. The bucket TTL is an upper bound;
// shorter per-entry TTLs are enforced on read from a stamp stored with the
// value.
type Cache struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

var _ cache.Cache = (*Cache)(nil)

// New wraps kv.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// KV keys only allow [-/_=.a-zA-Z0-9]; cache keys carry ':' and more.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("natskv get: %w", err)
	}

	raw := entry.Value()
	if len(raw) < headerLen {
		return nil, false, nil
	}
	if exp := int64(binary.BigEndian.Uint64(raw)); exp != 0 && c.now().UnixNano() >= exp {
		return nil, false, nil
	}
	return raw[headerLen:], true, nil
}

// Set stores value until ttl elapses; ttl <= 0 leaves expiry to the bucket.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var exp int64
	if ttl > 0 {
		exp = c.now().Add(ttl).UnixNano()
	}
	buf := make([]byte, headerLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(exp))
	copy(buf[headerLen:], value)

	if _, err := c.kv.Put(ctx, encodeKey(key), buf); err != nil {
		return fmt.Errorf("natskv put: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, encodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete: %w", err)
	}
	return nil
}
