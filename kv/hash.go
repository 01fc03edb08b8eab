package kv

import "context"

// HSet writes field/value pairs into a hash and returns how many fields
// were added. Values follow go-redis HSET argument rules: alternating
// field, value arguments or a single map[string]any.
func (c *Client) HSet(ctx context.Context, key string, values ...any) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.HSet(ctx, key, values...).Result()
	return n, c.wrap("hset", err)
}

// HSetNX writes field only when it is absent.
func (c *Client) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	ok, err := rdb.HSetNX(ctx, key, field, value).Result()
	return ok, c.wrap("hsetnx", err)
}

// HGet reads one field. A missing key or field returns coord.ErrNotFound.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", err
	}
	v, err := rdb.HGet(ctx, key, field).Result()
	return v, c.wrap("hget", err)
}

// HDel removes fields and returns how many existed.
func (c *Client) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.HDel(ctx, key, fields...).Result()
	return n, c.wrap("hdel", err)
}

// HExists reports whether field is set.
func (c *Client) HExists(ctx context.Context, key, field string) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	ok, err := rdb.HExists(ctx, key, field).Result()
	return ok, c.wrap("hexists", err)
}

// HKeys returns the field names of a hash.
func (c *Client) HKeys(ctx context.Context, key string) ([]string, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	v, err := rdb.HKeys(ctx, key).Result()
	return v, c.wrap("hkeys", err)
}

// HGetAll returns every field of a hash. An absent key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	v, err := rdb.HGetAll(ctx, key).Result()
	return v, c.wrap("hgetall", err)
}
