package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/rate_check.lua
var rateCheckScript string

type Client struct {
	rdb        *redis.Client
	rateScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:        rdb,
		rateScript: redis.NewScript(rateCheckScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CheckRateLimit atomically increments the tenant's window counter.
// Returns whether the call is admitted and, when rejected, the seconds left
// in the current window.
func (c *Client) CheckRateLimit(ctx context.Context, tenantID string, limit, windowSeconds int) (bool, int, error) {
	key := fmt.Sprintf("ratelimit:%s", tenantID)

	result, err := c.rateScript.Run(ctx, c.rdb, []string{key}, limit, windowSeconds).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate check script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script result type")
	}

	allowed, _ := values[0].(int64)
	retryAfter, _ := values[1].(int64)
	return allowed == 1, int(retryAfter), nil
}

// GetSession loads a conversation session's message history.
func (c *Client) GetSession(ctx context.Context, sessionKey string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf("session:%s", sessionKey)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode session: %w", err)
	}
	return true, nil
}

// SaveSession stores a conversation session with a bounded TTL.
func (c *Client) SaveSession(ctx context.Context, sessionKey string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return c.rdb.Set(ctx, fmt.Sprintf("session:%s", sessionKey), raw, ttl).Err()
}
