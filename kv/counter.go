package kv

import "context"

// Incr atomically increments key by one and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.Incr(ctx, key).Result()
	return n, c.wrap("incr", err)
}

// Decr atomically decrements key by one and returns the new value.
func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.Decr(ctx, key).Result()
	return n, c.wrap("decr", err)
}

// IncrBy atomically adds delta to key and returns the new value.
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.IncrBy(ctx, key, delta).Result()
	return n, c.wrap("incrby", err)
}
