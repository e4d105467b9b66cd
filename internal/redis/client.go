// Package redis mirrors published conference state into Redis so other
// processes can read the latest snapshot or subscribe to updates. The
// mirror is write-only; the server never reads its state back.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/conference-signaling/config"
)

const (
	// StateKey holds the most recent state_update payload.
	StateKey = "conference:state"
	// UpdatesChannel receives every state_update payload.
	UpdatesChannel = "conference:state_updates"
)

const connectTimeout = 5 * time.Second

type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect initializes the Redis client and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: connectTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb, ttl: cfg.StateTTL}, nil
}

// MirrorState stores payload under StateKey with the configured TTL and
// publishes it on UpdatesChannel in one round trip.
func (c *Client) MirrorState(ctx context.Context, payload []byte) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, StateKey, payload, c.ttl)
	pipe.Publish(ctx, UpdatesChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror state: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
