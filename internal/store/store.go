// SPDX-License-Identifier: MIT

// Package store is the typed adapter over the shared key-value + pub/sub
// store. It hosts the owner-guarded script operations; scripts are the sole
// means of mutating a presence key on behalf of an owner.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/presenced/internal/metrics"
)

// Config holds store connection configuration.
type Config struct {
	URL string // redis://, rediss:// or unix:// URL, credentials included
}

// Client wraps a pooled Redis client. Regular commands share the pool; every
// subscription holds its own dedicated connection (a subscriber connection
// cannot issue commands).
type Client struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// New connects to the store and verifies the connection with a bounded ping.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 5

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store connection failed: %w", err)
	}

	logger.Info().
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Msg("connected to presence store")

	return &Client{
		rdb:    client,
		logger: logger,
	}, nil
}

// SetWithTTLGetPrev atomically sets key to value with the given TTL and
// returns the previous value. existed is false when the key was absent.
func (c *Client) SetWithTTLGetPrev(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	prev, err := c.rdb.SetArgs(ctx, key, value, redis.SetArgs{TTL: ttl, Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		metrics.RecordStoreError("set_get_prev")
		return "", false, fmt.Errorf("set %s: %w", key, err)
	}
	return prev, true, nil
}

// Set stores a plain value without TTL.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		metrics.RecordStoreError("set")
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get retrieves a value. ok is false when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		metrics.RecordStoreError("get")
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// MGet fetches many keys in one round trip. Absent keys yield nil entries;
// the result always has one entry per requested key, in order.
func (c *Client) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		metrics.RecordStoreError("mget")
		return nil, fmt.Errorf("mget %d keys: %w", len(keys), err)
	}
	out := make([]*string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			out[i] = &s
		}
	}
	return out, nil
}

// Exists reports whether the key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		metrics.RecordStoreError("exists")
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Del removes a key unconditionally.
func (c *Client) Del(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		metrics.RecordStoreError("del")
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Pipelined executes the queued commands in one round trip and returns the
// commands in order. A redis.Nil from an individual read is not a pipeline
// failure; callers inspect the commands they care about.
func (c *Client) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	cmds, err := c.rdb.Pipelined(ctx, fn)
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.RecordStoreError("pipeline")
		return cmds, fmt.Errorf("pipeline: %w", err)
	}
	return cmds, nil
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		metrics.RecordStoreError("sadd")
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

// SIsMember reports set membership.
func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		metrics.RecordStoreError("sismember")
		return false, fmt.Errorf("sismember %s: %w", key, err)
	}
	return ok, nil
}

// Publish sends a payload to a channel. Delivery is fire-and-forget.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		metrics.RecordStoreError("publish")
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a dedicated subscriber connection for the given channels
// and blocks until the subscription is confirmed.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	pubsub := c.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		metrics.RecordStoreError("subscribe")
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return pubsub, nil
}

// Ping verifies store liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the pooled connections.
func (c *Client) Close() error {
	return c.rdb.Close()
}
