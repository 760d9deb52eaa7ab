package main

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alextavares/aichat-sub001/internal/config"
)

func TestOriginHosts(t *testing.T) {
	tests := []struct {
		origin string
		want   []string
	}{
		{"http://localhost:3000", []string{"localhost:3000"}},
		{"https://chat.example.com", []string{"chat.example.com"}},
		{"*", nil},
		{"", nil},
		{"not a url", nil},
	}
	for _, tt := range tests {
		if got := originHosts(tt.origin); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("originHosts(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestBuildCacheL1Only(t *testing.T) {
	cfg := config.Defaults()
	c, closeCache, err := buildCache(context.Background(), &cfg, nil)
	if err != nil {
		t.Fatalf("buildCache: %v", err)
	}
	defer closeCache()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	// ristretto admits writes asynchronously.
	deadline := time.Now().Add(time.Second)
	for {
		if v, ok, _ := c.Get(ctx, "k"); ok {
			if string(v) != "v" {
				t.Fatalf("got %q", v)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("value never became visible")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBuildCacheRejectsNATSWithoutConnection(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cache.L2 = "nats"
	if _, _, err := buildCache(context.Background(), &cfg, nil); err == nil {
		t.Fatal("expected an error without a NATS connection")
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.SQLite.Path = t.TempDir() + "/gateway.db"
	store, err := openStore(context.Background(), &cfg, true)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg.Store.Driver = "mysql"
	if _, err := openStore(context.Background(), &cfg, true); err == nil {
		t.Fatal("expected unknown driver error")
	}
}
