package cluster

import (
	"context"
	"time"
)

// RegisterOption tunes RegisterWorker.
type RegisterOption func(*RegisterOptions)

// RegisterOptions is the resolved form of RegisterOption values.
type RegisterOptions struct {
	Restamp bool
}

// Restamp overwrites registered_at on re-registration.
func Restamp() RegisterOption {
	return func(o *RegisterOptions) { o.Restamp = true }
}

// ApplyRegisterOptions resolves opts.
func ApplyRegisterOptions(opts ...RegisterOption) RegisterOptions {
	var o RegisterOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Store defines the persistence contract for the worker registry.
type Store interface {
	// RegisterWorker upserts the worker hash and stamps last_heartbeat.
	// registered_at is written only if absent unless Restamp is passed.
	RegisterWorker(ctx context.Context, w *Worker, opts ...RegisterOption) error

	// UpdateHeartbeat writes last_heartbeat. Returns coord.ErrWorkerNotFound
	// if the worker is not registered.
	UpdateHeartbeat(ctx context.Context, workerID string, at time.Time) error

	// GetActiveWorkers returns the ids of workers whose last_heartbeat is at
	// or after now-timeout. Workers with a missing or unparsable heartbeat
	// are excluded, not reported as errors.
	GetActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error)

	// UnregisterWorker deletes the worker. An unknown worker returns false
	// and no error.
	UnregisterWorker(ctx context.Context, workerID string) (bool, error)

	// GetWorker reads one worker. Returns coord.ErrWorkerNotFound.
	GetWorker(ctx context.Context, workerID string) (*Worker, error)

	// ListWorkers returns every registered worker, live or not.
	ListWorkers(ctx context.Context) ([]*Worker, error)
}
