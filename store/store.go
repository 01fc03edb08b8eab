package store

import (
	"context"

	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/counter"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/queue"
	"github.com/xraph/coord/task"
)

// Store is the aggregate persistence interface. The Redis backend in
// store/redis implements it.
type Store interface {
	job.Store
	task.Store
	cluster.Store
	queue.Store
	counter.Store

	// Publish sends an event payload on a pub/sub channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe streams payloads published on channel until ctx ends or
	// the returned stop function is called.
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)

	// Ping checks the backend round trip.
	Ping(ctx context.Context) error

	// Close releases the backend's connection.
	Close() error
}
