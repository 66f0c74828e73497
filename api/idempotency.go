package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeaderIdempotencyKey lets clients retry a create without inserting twice.
const HeaderIdempotencyKey = "Idempotency-Key"

const idempotencyKeyMaxLen = 128

// Deduper records idempotency keys of creates that have been accepted.
type Deduper interface {
	// Claim records key and reports whether it was not seen before.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed create may be retried.
	Release(ctx context.Context, key string) error
}

// RedisDeduper stores claimed idempotency keys in Redis so all instances
// share them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return "todos:idempotency:" + key
}

func (r *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
