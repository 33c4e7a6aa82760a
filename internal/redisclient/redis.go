package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cotaai/quotepipe/internal/config"
)

// Client wraps a redis client used by the HTTP API's distributed request
// rate limiter (internal/api).
type Client struct {
	C *redis.Client
}

func New(cfg *config.Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{C: c}, nil
}

func (c *Client) Close() error {
	return c.C.Close()
}
