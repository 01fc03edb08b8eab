package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/xraph/coord"
)

// Increment adds delta with INCRBY.
func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, counterKey(key), delta)
	if err != nil {
		return 0, fmt.Errorf("coord/redis: increment %s: %w", key, err)
	}
	return n, nil
}

// Decrement subtracts delta with INCRBY.
func (s *Store) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, counterKey(key), -delta)
	if err != nil {
		return 0, fmt.Errorf("coord/redis: decrement %s: %w", key, err)
	}
	return n, nil
}

// Get reads a counter; absent reads as zero.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	raw, err := s.client.Get(ctx, counterKey(key))
	if errors.Is(err, coord.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("coord/redis: get counter %s: %w", key, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("coord/redis: get counter %s: %w: %q", key, coord.ErrDecode, raw)
	}
	return n, nil
}
