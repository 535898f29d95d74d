package settings

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

var defaults = Limits{MaxCharacters: 100000, MaxWords: 20000}

// testRedis connects to REDIS_ADDR and skips the test when nothing answers.
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

func TestStatic(t *testing.T) {
	l, err := Static(defaults).Limits(context.Background())
	if err != nil || l != defaults {
		t.Fatalf("Static = %+v, %v", l, err)
	}
}

func TestRedisOutageServesDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	tl := logger.NewTestLogger()
	p := NewRedisProvider(client, defaults, tl)

	l, err := p.Limits(context.Background())
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if l != defaults {
		t.Fatalf("got %+v", l)
	}
	if !tl.HasMessage("WARN", "Failed to load settings") {
		t.Fatal("outage should be logged")
	}
}

func TestRedisProviderReadsAndCaches(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	key := "seed:settings:test:" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	clock := time.Unix(0, 0)
	p := NewRedisProvider(client, defaults, logger.NewTestLogger(), WithKey(key), WithCacheTTL(time.Minute))
	p.now = func() time.Time { return clock }

	if err := client.HSet(ctx, key, FieldMaxWords, "500", FieldMaxChars, "oops").Err(); err != nil {
		t.Fatalf("hset: %v", err)
	}
	l, err := p.Limits(ctx)
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if l.MaxWords != 500 || l.MaxCharacters != defaults.MaxCharacters {
		t.Fatalf("got %+v", l)
	}

	client.HSet(ctx, key, FieldMaxWords, "900")
	if l, _ := p.Limits(ctx); l.MaxWords != 500 {
		t.Fatalf("cached value expected, got %+v", l)
	}

	clock = clock.Add(2 * time.Minute)
	if l, _ := p.Limits(ctx); l.MaxWords != 900 {
		t.Fatalf("refreshed value expected, got %+v", l)
	}

	if err := p.Set(ctx, Limits{MaxCharacters: 10, MaxWords: 5}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if l, _ := p.Limits(ctx); l.MaxWords != 5 || l.MaxCharacters != 10 {
		t.Fatalf("Set not visible: %+v", l)
	}
	if err := p.Set(ctx, Limits{}); err == nil {
		t.Fatal("zero limits should be rejected")
	}
}
