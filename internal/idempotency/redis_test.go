package idempotency

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestRedisRepository requires a Redis instance on localhost:6379 and skips
// when none is available.
func TestRedisRepository(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	repo := NewRedisRepository(client, time.Minute)
	ctx = context.Background()
	key := "test-idem-" + strconv.FormatInt(time.Now().UnixNano(), 10)

	if _, err := repo.Get(ctx, "admin", key); err != ErrKeyNotFound {
		t.Errorf("Get() error = %v, want %v", err, ErrKeyNotFound)
	}
	if err := repo.Store(ctx, testRecord("admin", key)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	defer client.Del(ctx, repo.key("admin", key))

	got, err := repo.Get(ctx, "admin", key)
	if err != nil || got.ResponseStatusCode != 201 {
		t.Fatalf("Get() = %+v, %v", got, err)
	}
	if err := repo.Store(ctx, testRecord("admin", key)); err != ErrKeyExists {
		t.Errorf("duplicate Store() error = %v, want %v", err, ErrKeyExists)
	}

	ttl := client.TTL(ctx, repo.key("admin", key)).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}
}
