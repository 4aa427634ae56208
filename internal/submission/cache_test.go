package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRedisCache(client, "leaf-check:")
	ctx := context.Background()

	if _, err := cache.Get(ctx, "submission:missing"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}

	if err := cache.Set(ctx, "submission:1", StatusProcessing, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := cache.Get(ctx, "submission:1")
	if err != nil || value != StatusProcessing {
		t.Fatalf("unexpected value %q %v", value, err)
	}
	if !mr.Exists("leaf-check:submission:1") {
		t.Fatalf("expected key to be namespaced, keys: %v", mr.Keys())
	}

	mr.FastForward(2 * time.Minute)
	if _, err := cache.Get(ctx, "submission:1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}

func TestNopCacheAlwaysMisses(t *testing.T) {
	var cache Cache = NopCache{}
	if err := cache.Set(context.Background(), "k", "v", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Get(context.Background(), "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}
