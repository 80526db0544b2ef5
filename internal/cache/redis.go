package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get for absent keys and by every Get on a disabled client.
var ErrMiss = redis.Nil

// Client is a JSON cache over Redis. A zero or disabled client is valid and
// behaves as an always-empty cache.
type Client struct {
	rdb     *redis.Client
	enabled bool
	logger  *slog.Logger
}

// New sets up a Redis connection if redisURL is provided. Any failure
// leaves caching disabled rather than failing startup.
func New(ctx context.Context, redisURL string, logger *slog.Logger) *Client {
	c := &Client{logger: logger.With("component", "cache")}
	if redisURL == "" {
		c.logger.Info("redis URL not provided, caching disabled")
		return c
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		c.logger.Warn("failed to parse redis URL, caching disabled", "error", err)
		return c
	}

	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn("failed to connect to redis, caching disabled", "error", err)
		rdb.Close()
		return c
	}

	c.rdb = rdb
	c.enabled = true
	c.logger.Info("redis cache initialized")
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

func (c *Client) Close() error {
	if c.Enabled() {
		return c.rdb.Close()
	}
	return nil
}

// Set stores a value in cache with expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value from cache
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.Enabled() {
		return ErrMiss
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes keys from cache
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
