// Package usage counts completed ingestions per user per calendar month.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = 40 * 24 * time.Hour

type Counter struct {
	client *redis.Client
	now    func() time.Time
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client, now: time.Now}
}

// Key returns the counter key for userID in the month containing t.
func Key(userID string, t time.Time) string {
	return fmt.Sprintf("usage:%s:%s", userID, t.UTC().Format("2006-01"))
}

// Increment adds one to this month's counter and returns the new value.
func (c *Counter) Increment(ctx context.Context, userID string) (int64, error) {
	key := Key(userID, c.now())
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, keyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return incr.Val(), nil
}

// Current returns this month's count for userID.
func (c *Counter) Current(ctx context.Context, userID string) (int64, error) {
	n, err := c.client.Get(ctx, Key(userID, c.now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return n, nil
}
