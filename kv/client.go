// Package kv is the backing store client: one logical connection to Redis
// exposing string, hash, list, set, counter, pub/sub, script and
// transaction primitives.
//
// Every primitive fails fast with coord.ErrNotConnected while the client is
// disconnected. Transport failures flip the client to disconnected and are
// reported as coord.ErrConnection; the client never retries or reconnects on
// its own. Callers decide when to call Reconnect and must reissue the
// original operation afterwards.
//
// A Client is dialled with a pool of one connection. Blocking pops hold that
// connection for their whole timeout, so give each goroutine its own Client.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/coord"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPassword sets the AUTH password.
func WithPassword(p string) Option {
	return func(c *Client) { c.password = p }
}

// WithDB selects the logical database.
func WithDB(db int) Option {
	return func(c *Client) { c.db = db }
}

// WithPoolSize overrides the single-connection default. Only raise it for
// clients that never issue blocking pops.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.poolSize = n }
}

// WithTimeouts sets dial and per-command read/write timeouts.
func WithTimeouts(dial, rw time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = dial
		c.rwTimeout = rw
	}
}

// Client owns one logical connection to the backing store.
type Client struct {
	logger      *slog.Logger
	password    string
	db          int
	poolSize    int
	dialTimeout time.Duration
	rwTimeout   time.Duration

	mu   sync.RWMutex
	rdb  *redis.Client
	addr string

	connected atomic.Bool
}

// New creates a disconnected Client. Call Connect before use.
func New(opts ...Option) *Client {
	c := &Client{
		logger:      slog.Default(),
		poolSize:    1,
		dialTimeout: 5 * time.Second,
		rwTimeout:   3 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials host:port and verifies the connection with PING. Calling it
// on a connected client first disconnects cleanly.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	return c.dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}

// ConnectAddr is Connect for a "host:port" address.
func (c *Client) ConnectAddr(ctx context.Context, addr string) error {
	return c.dial(ctx, addr)
}

func (c *Client) dial(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	c.addr = addr

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     c.password,
		DB:           c.db,
		PoolSize:     c.poolSize,
		DialTimeout:  c.dialTimeout,
		ReadTimeout:  c.rwTimeout,
		WriteTimeout: c.rwTimeout,
		MaxRetries:   -1, // retry policy belongs to the caller
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close() //nolint:errcheck // best-effort teardown of a failed dial
		c.logger.Error("backing store connect failed",
			slog.String("addr", addr),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("coord/kv: connect %s: %w: %w", addr, coord.ErrConnection, err)
	}

	c.rdb = rdb
	c.connected.Store(true)
	c.logger.Debug("backing store connected", slog.String("addr", addr))
	return nil
}

// Disconnect closes the connection. It is safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	c.connected.Store(false)
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("coord/kv: disconnect: %w", err)
	}
	return nil
}

// Reconnect tears down the connection and dials the last address again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.RLock()
	addr := c.addr
	c.mu.RUnlock()
	if addr == "" {
		return fmt.Errorf("coord/kv: reconnect: %w", coord.ErrNotConnected)
	}
	c.logger.Info("reconnecting to backing store", slog.String("addr", addr))
	return c.dial(ctx, addr)
}

// IsConnected reports the last observed connection state. It does not
// contact the server; use Ping for that.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Addr returns the address of the last Connect call.
func (c *Client) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

// Ping performs a live round trip. A failed ping marks the client
// disconnected.
func (c *Client) Ping(ctx context.Context) bool {
	c.mu.RLock()
	rdb := c.rdb
	c.mu.RUnlock()
	if rdb == nil {
		return false
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		c.markDisconnected("ping", err)
		return false
	}
	return true
}

// conn returns the live client or coord.ErrNotConnected.
func (c *Client) conn() (*redis.Client, error) {
	if !c.connected.Load() {
		return nil, coord.ErrNotConnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rdb == nil {
		return nil, coord.ErrNotConnected
	}
	return c.rdb, nil
}

func (c *Client) markDisconnected(op string, err error) {
	if c.connected.Swap(false) {
		c.logger.Warn("backing store connection lost",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

// wrap classifies a go-redis error into the coord taxonomy. redis.Nil maps
// to coord.ErrNotFound; callers that give Nil another meaning check for it
// before calling wrap.
func (c *Client) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("coord/kv: %s: %w", op, coord.ErrNotFound)
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("coord/kv: %s: %w: %w", op, coord.ErrInvalidReply, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("coord/kv: %s: %w", op, err)
	}
	c.markDisconnected(op, err)
	return fmt.Errorf("coord/kv: %s: %w: %w", op, coord.ErrConnection, err)
}
