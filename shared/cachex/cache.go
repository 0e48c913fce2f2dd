// Package cachex is the small JSON-over-redis cache used to keep the
// latest telemetry update record hot for the read endpoint. It is a
// read-through cache with explicit invalidation, not a source of truth:
// every value it holds can be rebuilt from the history table.
package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"shrc-fleet-telemetry/shared/config"
)

type Client struct {
	rdb *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// GetJSON reports a miss as (false, nil); a decode failure is an error
// so a poisoned entry is surfaced instead of served as absent.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Client exposes the underlying connection for the sync lease in lockx.
func (c *Client) Client() *redis.Client {
	return c.rdb
}
