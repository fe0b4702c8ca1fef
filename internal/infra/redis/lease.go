package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis operations backing the migration lease.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks the Redis connection.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func leaseKey(jobID string) string {
	return fmt.Sprintf("migration:lease:%s", jobID)
}

// AcquireLease marks one worker as the driver of a migration job. Returns
// false when another worker already holds the lease.
func (c *Client) AcquireLease(
	ctx context.Context,
	jobID, owner string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, leaseKey(jobID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// RenewLease extends the TTL of a held lease.
func (c *Client) RenewLease(ctx context.Context, jobID string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, leaseKey(jobID), ttl).Err()
}

// ReleaseLease drops the lease when the job finishes.
func (c *Client) ReleaseLease(ctx context.Context, jobID string) error {
	return c.rdb.Del(ctx, leaseKey(jobID)).Err()
}
