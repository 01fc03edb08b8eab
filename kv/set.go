package kv

import "context"

// SAdd adds members to a set and returns how many were new.
func (c *Client) SAdd(ctx context.Context, key string, members ...any) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.SAdd(ctx, key, members...).Result()
	return n, c.wrap("sadd", err)
}

// SRem removes members and returns how many were present. Because only one
// caller can observe a member being removed, SRem doubles as an atomic claim.
func (c *Client) SRem(ctx context.Context, key string, members ...any) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.SRem(ctx, key, members...).Result()
	return n, c.wrap("srem", err)
}

// SIsMember reports whether member is in the set.
func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	ok, err := rdb.SIsMember(ctx, key, member).Result()
	return ok, c.wrap("sismember", err)
}

// SMembers returns all members of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	v, err := rdb.SMembers(ctx, key).Result()
	return v, c.wrap("smembers", err)
}

// SCard returns the set cardinality.
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.SCard(ctx, key).Result()
	return n, c.wrap("scard", err)
}
