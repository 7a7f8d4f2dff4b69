// Package redis provides the Redis connection used by the device
// registry and threshold configuration store.
//
// The wrapper owns connection lifecycle and health checking; data
// access lives with the repositories that use the client. Every
// registry read goes straight to Redis so that multiple cores can
// share one store without cache invalidation.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// connectTimeout is the timeout for verifying connectivity at startup.
const connectTimeout = 5 * time.Second

// Config contains Redis connection options.
// These map to the store section of config.yaml.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password is the Redis AUTH password. Empty means no auth.
	Password string

	// DB selects the logical Redis database.
	DB int

	// PoolSize caps the number of pooled connections.
	PoolSize int
}

// Client wraps a go-redis client with lifecycle management.
type Client struct {
	rdb *goredis.Client
}

// Connect opens a Redis connection and verifies it with a ping.
//
// Parameters:
//   - cfg: Redis connection configuration
//
// Returns:
//   - *Client: Connected client wrapper
//   - error: If the server cannot be reached
func Connect(cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying redis connection: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Raw returns the underlying go-redis client for repository use.
func (c *Client) Raw() *goredis.Client {
	return c.rdb
}

// HealthCheck verifies the Redis server is responding.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
