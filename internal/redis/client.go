package redis

import (
	"context"
	"fmt"
	"time"

	goRedis "github.com/redis/go-redis/v9"

	"faucet/internal/observability/metrics"
	"faucet/scripts/lua"
)

// Client wraps go-redis and exposes helpers for claim lock keys and Lua execution.
type Client struct {
	rdb           *goRedis.Client
	releaseScript *goRedis.Script
}

// New creates a Redis client and verifies connectivity.
func New(addr string) (*Client, error) {
	rdb := goRedis.NewClient(&goRedis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{
		rdb:           rdb,
		releaseScript: goRedis.NewScript(lua.ReleaseScript),
	}, nil
}

// Close shuts down the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// TryLock sets key to token if it is unset, expiring after ttl.
func (c *Client) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() { metrics.ObserveRedisOperation("try_lock", time.Since(start)) }()
	return c.rdb.SetNX(ctx, key, token, ttl).Result()
}

// Unlock runs the release script so only the owner deletes the key.
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	start := time.Now()
	defer func() { metrics.ObserveRedisOperation("unlock", time.Since(start)) }()
	return c.releaseScript.Run(ctx, c.rdb, []string{key}, token).Err()
}

// ClaimLockKey returns the Redis key that serialises claims of one identity.
func ClaimLockKey(identity string) string {
	return fmt.Sprintf("faucet:claim:%s:lock", identity)
}
