package kv

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Script is a server-side Lua script, cached by SHA after first use.
type Script = redis.Script

// NewScript prepares a Lua script for Eval.
func NewScript(src string) *Script {
	return redis.NewScript(src)
}

// Eval runs a script in one round trip. Scripts execute atomically on the
// server, which makes them the tool for multi-step updates that must not
// interleave with other clients.
func (c *Client) Eval(ctx context.Context, s *Script, keys []string, args ...any) (any, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	v, err := s.Run(ctx, rdb, keys, args...).Result()
	return v, c.wrap("eval", err)
}

// Pipelined batches the commands queued by fn into one round trip without
// transactional guarantees.
func (c *Client) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	cmds, err := rdb.Pipelined(ctx, fn)
	return cmds, c.wrap("pipeline", err)
}

// TxPipelined wraps the commands queued by fn in MULTI/EXEC. Redis
// transactions are best effort: a command that fails at runtime does not
// roll back the others.
func (c *Client) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	cmds, err := rdb.TxPipelined(ctx, fn)
	return cmds, c.wrap("multi/exec", err)
}
