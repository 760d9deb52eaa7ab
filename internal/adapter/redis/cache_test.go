package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/alextavares/aichat-sub001/internal/adapter/redis"
	"github.com/alextavares/aichat-sub001/internal/port/cache"
	"github.com/alextavares/aichat-sub001/internal/port/cache/cachetest"
)

// Requires a Redis server at REDIS_ADDR.
func TestCompliance(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c, err := redis.New(context.Background(), redis.Config{Addr: addr})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	cachetest.RunComplianceTests(t, cache.Prefixed(c, "gateway-test:"), nil)
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := redis.New(context.Background(), redis.Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected connection error")
	}
}
