package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/coord"
)

// LPush prepends values and returns the new list length.
func (c *Client) LPush(ctx context.Context, key string, values ...any) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.LPush(ctx, key, values...).Result()
	return n, c.wrap("lpush", err)
}

// RPush appends values and returns the new list length.
func (c *Client) RPush(ctx context.Context, key string, values ...any) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.RPush(ctx, key, values...).Result()
	return n, c.wrap("rpush", err)
}

// LPop removes and returns the head. An empty list returns coord.ErrNotFound.
func (c *Client) LPop(ctx context.Context, key string) (string, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", err
	}
	v, err := rdb.LPop(ctx, key).Result()
	return v, c.wrap("lpop", err)
}

// RPop removes and returns the tail. An empty list returns coord.ErrNotFound.
func (c *Client) RPop(ctx context.Context, key string) (string, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", err
	}
	v, err := rdb.RPop(ctx, key).Result()
	return v, c.wrap("rpop", err)
}

// BLPop blocks up to timeout for the head of the first non-empty list and
// returns the list key and the value. It returns coord.ErrTimeout when
// nothing arrives. Redis counts the timeout in whole seconds, so fractional
// timeouts are rounded up.
func (c *Client) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	return c.blockingPop("blpop", timeout, keys, func(rdb *redis.Client, t time.Duration) *redis.StringSliceCmd {
		return rdb.BLPop(ctx, t, keys...)
	})
}

// BRPop is BLPop from the tail.
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	return c.blockingPop("brpop", timeout, keys, func(rdb *redis.Client, t time.Duration) *redis.StringSliceCmd {
		return rdb.BRPop(ctx, t, keys...)
	})
}

func (c *Client) blockingPop(
	op string,
	timeout time.Duration,
	keys []string,
	do func(*redis.Client, time.Duration) *redis.StringSliceCmd,
) (string, string, error) {
	if timeout <= 0 {
		return "", "", fmt.Errorf("coord/kv: %s: %w: timeout must be positive", op, coord.ErrInvalidArgument)
	}
	if len(keys) == 0 {
		return "", "", fmt.Errorf("coord/kv: %s: %w: no keys", op, coord.ErrInvalidArgument)
	}
	// Whole seconds, rounded up.
	timeout = (timeout + time.Second - 1) / time.Second * time.Second
	rdb, err := c.conn()
	if err != nil {
		return "", "", err
	}
	res, err := do(rdb, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", fmt.Errorf("coord/kv: %s: %w", op, coord.ErrTimeout)
	}
	if err != nil {
		return "", "", c.wrap(op, err)
	}
	if len(res) != 2 {
		return "", "", fmt.Errorf("coord/kv: %s: %w: got %d elements", op, coord.ErrInvalidReply, len(res))
	}
	return res[0], res[1], nil
}

// LLen returns the list length.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.LLen(ctx, key).Result()
	return n, c.wrap("llen", err)
}

// LRange returns elements start..stop inclusive.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	v, err := rdb.LRange(ctx, key, start, stop).Result()
	return v, c.wrap("lrange", err)
}

// LRem removes up to count occurrences of value (0 = all) and returns how
// many were removed.
func (c *Client) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.LRem(ctx, key, count, value).Result()
	return n, c.wrap("lrem", err)
}
