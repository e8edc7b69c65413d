package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Set(ctx, "k1", map[string]int{"n": 1}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v map[string]int
	if err := s.Get(ctx, "k1", &v); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v["n"] != 1 {
		t.Errorf("Get: got %v", v)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Get(ctx, "k1", &v); err != ErrMiss {
		t.Errorf("Get after Delete: expected ErrMiss, got %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "k", "v", time.Minute)
	var v string
	if err := s.Get(ctx, "k", &v); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := s.Get(ctx, "k", &v); err != ErrMiss {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "a", 1, 0)
	_ = s.Set(ctx, "b", 2, 0)
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	var n int
	if err := s.Get(ctx, "a", &n); err != ErrMiss {
		t.Errorf("expected ErrMiss after Clear, got %v", err)
	}
}

func TestNew_UnknownType(t *testing.T) {
	if _, err := New(context.Background(), Config{Type: "memcached"}); err == nil {
		t.Fatal("expected error for unknown cache type")
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	url := os.Getenv("ASKWEB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ASKWEB_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url, "askweb:test:")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	defer s.Clear(ctx)

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v string
	if err := s.Get(ctx, "k", &v); err != nil || v != "v" {
		t.Fatalf("Get: v=%q err=%v", v, err)
	}
	if err := s.Get(ctx, "missing", &v); err != ErrMiss {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}
