// Package redis provides a shared second cache tier so several gateway
// instances can serve each other's cached responses.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pario-ai/gatecache/pkg/cache"
	"github.com/pario-ai/gatecache/pkg/config"
)

const defaultPrefix = "gatecache"

// Tier is a cache.Tier backed by Redis. TTL is enforced by Redis itself.
type Tier struct {
	client goredis.UniversalClient
	prefix string
}

// New connects to the configured Redis and verifies it responds.
func New(ctx context.Context, cfg config.RedisConfig) (*Tier, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string) *Tier {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Tier{client: client, prefix: prefix}
}

func (t *Tier) key(k string) string { return t.prefix + ":" + k }

// Name implements cache.Tier.
func (t *Tier) Name() string { return "redis" }

// Get implements cache.Tier.
func (t *Tier) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	val, err := t.client.Get(ctx, t.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	e, err := cache.DecodeEntry(val)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, true, nil
}

// Set implements cache.Tier. A zero ttl stores without expiry.
func (t *Tier) Set(ctx context.Context, key string, e cache.Entry, ttl time.Duration) error {
	val, err := cache.EncodeEntry(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := t.client.Set(ctx, t.key(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear deletes every key under the tier's prefix.
func (t *Tier) Clear(ctx context.Context) error {
	iter := t.client.Scan(ctx, 0, t.prefix+":*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := t.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := t.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Close releases the client.
func (t *Tier) Close() error {
	return t.client.Close()
}
