package queue

import (
	"context"
	"time"
)

// DefaultName is the queue used when none is configured.
const DefaultName = "tasks:pending"

// Store defines the persistence contract for task queues.
type Store interface {
	// Enqueue appends payload to the tail of the named queue.
	Enqueue(ctx context.Context, queue, payload string) error

	// Dequeue pops from the head of the named queue, blocking for at most
	// timeout. Sub-second timeouts round up to one second; a non-positive
	// timeout is rejected with coord.ErrInvalidArgument. Returns
	// coord.ErrTimeout when nothing arrives.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (string, error)

	// Size returns the number of queued entries. Use it for monitoring and
	// backpressure only.
	Size(ctx context.Context, queue string) (int64, error)

	// Peek returns up to n entries from the head without removing them.
	Peek(ctx context.Context, queue string, n int64) ([]string, error)

	// Remove deletes every entry equal to payload and returns how many were
	// removed.
	Remove(ctx context.Context, queue, payload string) (int64, error)
}
