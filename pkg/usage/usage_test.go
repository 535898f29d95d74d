package usage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestKey(t *testing.T) {
	at := time.Date(2026, 2, 28, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	if got := Key("u1", at); got != "usage:u1:2026-03" {
		t.Fatalf("Key = %q", got)
	}
}

func TestIncrementPerMonth(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	c := NewCounter(client)
	month := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return month }
	client.Del(ctx, Key("usage-test", month))
	t.Cleanup(func() { client.Del(ctx, Key("usage-test", month)) })

	for want := int64(1); want <= 3; want++ {
		n, err := c.Increment(ctx, "usage-test")
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if n != want {
			t.Fatalf("Increment = %d, want %d", n, want)
		}
	}
	if n, _ := c.Current(ctx, "usage-test"); n != 3 {
		t.Fatalf("Current = %d", n)
	}
	if ttl := client.TTL(ctx, Key("usage-test", month)).Val(); ttl <= 0 {
		t.Fatalf("key has no expiry: %v", ttl)
	}
}
