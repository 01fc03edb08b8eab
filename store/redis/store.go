package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/coord"
	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/counter"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/kv"
	"github.com/xraph/coord/queue"
	"github.com/xraph/coord/store"
	"github.com/xraph/coord/task"
)

// Compile-time interface checks.
var (
	_ job.Store     = (*Store)(nil)
	_ task.Store    = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
	_ queue.Store   = (*Store)(nil)
	_ counter.Store = (*Store)(nil)
	_ store.Store   = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for heartbeats and liveness.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements store.Store over one kv.Client.
type Store struct {
	client *kv.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Redis-backed store. The caller owns the client lifecycle
// until Close.
func New(client *kv.Client, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying connection.
func (s *Store) Client() *kv.Client { return s.client }

// Ping verifies the connection with a live round trip.
func (s *Store) Ping(ctx context.Context) error {
	if !s.client.Ping(ctx) {
		return fmt.Errorf("coord/redis: ping: %w", coord.ErrConnection)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close() error {
	return s.client.Disconnect()
}
