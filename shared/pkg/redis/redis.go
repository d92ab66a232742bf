// shared/pkg/redis/redis.go
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Script is a Lua script executed atomically by the server.
type Script = redis.Script

// NewScript wraps Lua source for EVALSHA with EVAL fallback.
func NewScript(src string) *Script {
	return redis.NewScript(src)
}

type Client struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	return &Client{client: client}
}

// HSetWithTTL writes hash fields and their expiry in one MULTI/EXEC.
func (c *Client) HSetWithTTL(ctx context.Context, key string, fields map[string]interface{}, expiration time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, expiration)
		return nil
	})
	return err
}

// HGetAll returns every field of a hash, ErrNotFound when it is absent.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

// Eval runs a script; a nil reply is reported as ErrNotFound.
func (c *Client) Eval(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, c.client, keys, args...).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return res, err
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
