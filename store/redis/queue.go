package redis

import (
	"context"
	"fmt"
	"time"
)

// Enqueue appends payload at the tail of the queue list.
func (s *Store) Enqueue(ctx context.Context, queue, payload string) error {
	if _, err := s.client.RPush(ctx, queue, payload); err != nil {
		return fmt.Errorf("coord/redis: enqueue %s: %w", queue, err)
	}
	return nil
}

// Dequeue pops the head of the queue with BLPOP.
func (s *Store) Dequeue(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	_, v, err := s.client.BLPop(ctx, timeout, queue)
	if err != nil {
		return "", fmt.Errorf("coord/redis: dequeue %s: %w", queue, err)
	}
	return v, nil
}

// Size returns the queue length.
func (s *Store) Size(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.LLen(ctx, queue)
	if err != nil {
		return 0, fmt.Errorf("coord/redis: queue size %s: %w", queue, err)
	}
	return n, nil
}

// Peek returns up to n entries from the head.
func (s *Store) Peek(ctx context.Context, queue string, n int64) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	vals, err := s.client.LRange(ctx, queue, 0, n-1)
	if err != nil {
		return nil, fmt.Errorf("coord/redis: peek %s: %w", queue, err)
	}
	return vals, nil
}

// Remove deletes every occurrence of payload.
func (s *Store) Remove(ctx context.Context, queue, payload string) (int64, error) {
	n, err := s.client.LRem(ctx, queue, 0, payload)
	if err != nil {
		return 0, fmt.Errorf("coord/redis: remove from %s: %w", queue, err)
	}
	return n, nil
}
