// Package settings serves runtime limits that operators can change without a
// deploy. Limits are read from a Redis hash and cached briefly.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

const (
	DefaultKey      = "seed:settings"
	FieldMaxChars   = "max_characters"
	FieldMaxWords   = "max_words"
	defaultCacheTTL = 30 * time.Second
)

// Limits bounds the size of accepted content.
type Limits struct {
	MaxCharacters int `json:"max_characters"`
	MaxWords      int `json:"max_words"`
}

// Provider returns the limits in force right now.
type Provider interface {
	Limits(ctx context.Context) (Limits, error)
}

// Static always returns the same limits.
type Static Limits

func (s Static) Limits(context.Context) (Limits, error) { return Limits(s), nil }

// RedisProvider reads HGETALL seed:settings. Missing or malformed fields fall
// back to the defaults; a Redis outage serves the last good value, or the
// defaults if there is none.
type RedisProvider struct {
	client   redis.UniversalClient
	key      string
	defaults Limits
	ttl      time.Duration
	logger   logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	cached   Limits
	cachedAt time.Time
	hasCache bool
}

type Option func(*RedisProvider)

func WithKey(key string) Option { return func(p *RedisProvider) { p.key = key } }

func WithCacheTTL(ttl time.Duration) Option { return func(p *RedisProvider) { p.ttl = ttl } }

func NewRedisProvider(client redis.UniversalClient, defaults Limits, log logger.Logger, opts ...Option) *RedisProvider {
	p := &RedisProvider{
		client:   client,
		key:      DefaultKey,
		defaults: defaults,
		ttl:      defaultCacheTTL,
		logger:   log.Named("settings"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisProvider) Limits(ctx context.Context) (Limits, error) {
	p.mu.Lock()
	if p.hasCache && p.now().Sub(p.cachedAt) < p.ttl {
		l := p.cached
		p.mu.Unlock()
		return l, nil
	}
	p.mu.Unlock()

	fields, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		p.logger.Warn("Failed to load settings, using fallback", logger.Error(err))
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.hasCache {
			return p.cached, nil
		}
		return p.defaults, nil
	}

	l := Limits{
		MaxCharacters: p.field(fields, FieldMaxChars, p.defaults.MaxCharacters),
		MaxWords:      p.field(fields, FieldMaxWords, p.defaults.MaxWords),
	}

	p.mu.Lock()
	p.cached, p.cachedAt, p.hasCache = l, p.now(), true
	p.mu.Unlock()
	return l, nil
}

func (p *RedisProvider) field(fields map[string]string, name string, fallback int) int {
	raw, ok := fields[name]
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		p.logger.Warn("Ignoring invalid setting", logger.String("field", name), logger.String("value", raw))
		return fallback
	}
	return v
}

// Set writes the limits back to Redis and drops the cache.
func (p *RedisProvider) Set(ctx context.Context, l Limits) error {
	if l.MaxCharacters <= 0 || l.MaxWords <= 0 {
		return fmt.Errorf("limits must be positive: %+v", l)
	}
	if err := p.client.HSet(ctx, p.key, FieldMaxChars, l.MaxCharacters, FieldMaxWords, l.MaxWords).Err(); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	p.mu.Lock()
	p.hasCache = false
	p.mu.Unlock()
	return nil
}
