package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, ttl), m
}

func TestRedisDeduperClaimOnce(t *testing.T) {
	deduper, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	first, err := deduper.Claim(ctx, "k1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !first {
		t.Fatalf("expected first claim to succeed")
	}
	second, err := deduper.Claim(ctx, "k1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second {
		t.Fatalf("expected duplicate claim to be rejected")
	}
}

func TestRedisDeduperRelease(t *testing.T) {
	deduper, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Claim(ctx, "k1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := deduper.Release(ctx, "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := deduper.Claim(ctx, "k1")
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if !again {
		t.Fatalf("expected key to be claimable after release")
	}
}

func TestRedisDeduperExpiry(t *testing.T) {
	deduper, m := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Claim(ctx, "k1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ttl := m.TTL("todos:idempotency:k1"); ttl != time.Minute {
		t.Fatalf("expected ttl of one minute, got %v", ttl)
	}
	m.FastForward(2 * time.Minute)
	again, err := deduper.Claim(ctx, "k1")
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if !again {
		t.Fatalf("expected expired key to be claimable")
	}
}
