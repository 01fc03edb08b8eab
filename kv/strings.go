package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/coord"
)

// Set writes a string value. A positive ttl expires the key.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	return c.wrap("set", rdb.Set(ctx, key, value, ttl).Err())
}

// SetNX writes value only if key does not exist. It reports whether the
// write happened.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	ok, err := rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, c.wrap("setnx", err)
}

// Get reads a string value. An absent key returns coord.ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", err
	}
	v, err := rdb.Get(ctx, key).Result()
	return v, c.wrap("get", err)
}

// Delete removes keys and returns how many existed.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.Del(ctx, keys...).Result()
	return n, c.wrap("del", err)
}

// Exists returns how many of keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.Exists(ctx, keys...).Result()
	return n, c.wrap("exists", err)
}

// Expire sets a ttl on key. It reports false when the key does not exist.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	ok, err := rdb.Expire(ctx, key, ttl).Result()
	return ok, c.wrap("expire", err)
}

// TTL returns the remaining time to live of key. Keys without expiry
// return -1; absent keys return coord.ErrNotFound.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	d, err := rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, c.wrap("pttl", err)
	}
	// go-redis passes the -2 and -1 sentinels through unscaled.
	if d == -2 {
		return 0, fmt.Errorf("coord/kv: pttl: %w", coord.ErrNotFound)
	}
	if d < 0 {
		return -1, nil
	}
	return d, nil
}

// Scan iterates the keyspace with SCAN MATCH and returns every matching key.
// It never blocks the server the way KEYS does.
func (c *Client) Scan(ctx context.Context, match string) ([]string, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	var keys []string
	iter := rdb.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, c.wrap("scan", err)
	}
	return keys, nil
}
