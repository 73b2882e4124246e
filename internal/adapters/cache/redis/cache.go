// Package redis is a Redis-backed claims.Cache so that several service
// replicas share cumulative claimed totals.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/okian/ucoin/internal/domain/claims"
	"github.com/shopspring/decimal"
)

const (
	defaultPrefix = "ucoin:claimed:"
	scanBatch     = 100
)

// addIfPresent increments an existing total and returns nil when the key is
// absent, so a lone increment never masquerades as a full total.
const addIfPresent = `if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
end
return false`

var _ claims.Cache = (*Cache)(nil)

// Cache implements claims.Cache on Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix overrides the key prefix.
func WithPrefix(p string) Option {
	return func(c *Cache) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithTTL expires cached totals after d. Zero keeps them until invalidated.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return New(rdb, opts...), nil
}

func (c *Cache) key(address string) string { return c.prefix + address }

// Get returns the cached total of address.
func (c *Cache) Get(ctx context.Context, address string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, c.key(address)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get: %w", err)
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get: decode %q: %w", val, err)
	}
	return d, true, nil
}

// Set overwrites the cached total of address.
func (c *Cache) Set(ctx context.Context, address string, total decimal.Decimal) error {
	if err := c.client.Set(ctx, c.key(address), total.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Add increments the cached total of address if one exists.
func (c *Cache) Add(ctx context.Context, address string, delta decimal.Decimal) (decimal.Decimal, bool, error) {
	val, err := c.client.Eval(ctx, addIfPresent, []string{c.key(address)}, delta.String()).Text()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis add: %w", err)
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis add: decode %q: %w", val, err)
	}
	return d, true, nil
}

// Delete drops the cached total of address.
func (c *Cache) Delete(ctx context.Context, address string) error {
	if err := c.client.Del(ctx, c.key(address)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Flush drops every cached total under the prefix.
func (c *Cache) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis flush: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
