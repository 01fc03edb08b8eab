package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/coord"
	"github.com/xraph/coord/backoff"
	"github.com/xraph/coord/cluster"
	"github.com/xraph/coord/engine"
	"github.com/xraph/coord/id"
	"github.com/xraph/coord/kv"
	"github.com/xraph/coord/middleware"
	"github.com/xraph/coord/plugin"
	"github.com/xraph/coord/queue"
	redisstore "github.com/xraph/coord/store/redis"
	"github.com/xraph/coord/task"
)

// reportAttempts bounds reconnect-and-retry of a single outcome report.
const reportAttempts = 5

// Pool runs Concurrency pull loops plus a heartbeat loop for one worker
// identity. Every loop owns its own connection: a blocking dequeue holds
// its connection for the whole dequeue timeout.
type Pool struct {
	cfg         coord.Config
	plugins     *plugin.Registry
	executor    *Executor
	queues      *queue.Manager
	limiter     *rate.Limiter
	backoff     backoff.Strategy
	engineOpts  []engine.Option
	mws         []middleware.Middleware
	maxAttempts int
	logger      *slog.Logger

	workerID        string
	host            string
	attributes      map[string]string
	shutdownTimeout time.Duration

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
	err     error
	control *session

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	processed atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkerID sets the identity registered in the worker registry.
// Defaults to a fresh id.NewWorkerID().
func WithWorkerID(workerID string) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithHost sets the advertised host. Defaults to os.Hostname().
func WithHost(host string) PoolOption {
	return func(p *Pool) { p.host = host }
}

// WithAttributes adds free-form fields to the worker's registry entry.
func WithAttributes(attrs map[string]string) PoolOption {
	return func(p *Pool) { p.attributes = maps.Clone(attrs) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithBackoff sets the delay strategy for reconnects and task retries.
func WithBackoff(b backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = b }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(mws ...middleware.Middleware) PoolOption {
	return func(p *Pool) { p.mws = append(p.mws, mws...) }
}

// WithQueueManager sets the manager enforcing queue pull rates and
// per-plugin concurrency.
func WithQueueManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.queues = m }
}

// WithEngineOptions passes extra options to every engine the pool creates.
func WithEngineOptions(opts ...engine.Option) PoolOption {
	return func(p *Pool) { p.engineOpts = append(p.engineOpts, opts...) }
}

// WithMaxAttempts lets a failing task run up to n times before it is
// reported failed.
func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) { p.maxAttempts = n }
}

// WithShutdownTimeout bounds how long Run waits for running tasks after
// its context ends.
func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// NewPool creates a pool executing the plugins in plugins.
func NewPool(cfg coord.Config, plugins *plugin.Registry, opts ...PoolOption) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coord/worker: new pool: %w", err)
	}
	if plugins == nil {
		return nil, fmt.Errorf("coord/worker: new pool: %w: nil plugin registry", coord.ErrInvalidArgument)
	}

	p := &Pool{
		cfg:             cfg,
		plugins:         plugins,
		backoff:         backoff.DefaultStrategy(),
		maxAttempts:     1,
		logger:          slog.Default(),
		workerID:        id.NewWorkerID(),
		shutdownTimeout: 30 * time.Second,
		active:          make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.host == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		p.host = host
	}
	if p.queues == nil {
		p.queues = queue.NewManager()
	}
	for _, name := range plugins.Names() {
		pl, _ := plugins.Get(name)
		if n := plugin.OptionsOf(pl).MaxConcurrency; n > 0 {
			p.queues.SetPluginConfig(queue.PluginConfig{QueueName: cfg.Queue, Plugin: name, MaxConcurrency: n})
		}
	}
	if cfg.MaxTasksPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxTasksPerSecond), cfg.Concurrency)
	}

	// Default middleware stack: tracing → metrics → logging → recover → timeout.
	// Recover sits inside the observers so a panic is recorded as one.
	mws := []middleware.Middleware{
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(p.logger),
		middleware.Recover(p.logger),
		middleware.Timeout(p.logger, 0),
	}
	mws = append(mws, p.mws...)
	p.executor = NewExecutor(plugins, p.backoff, p.maxAttempts, p.logger, mws...)

	return p, nil
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() string { return p.workerID }

// Processed returns the number of tasks executed so far.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Run starts the pool, blocks until ctx ends, then stops it within the
// shutdown timeout.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-done:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), p.shutdownTimeout)
	defer cancel()
	return p.Stop(stopCtx)
}

// Start registers the worker and launches the loops. It returns once the
// worker is registered.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	control, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("coord/worker: start: %w", err)
	}
	if err := control.eng.RegisterWorker(ctx, p.registration(), cluster.Restamp()); err != nil {
		control.close()
		return fmt.Errorf("coord/worker: start: %w", err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return p.heartbeatLoop(gctx, control) })
	for slot := range p.cfg.Concurrency {
		g.Go(func() error { return p.pullLoop(gctx, slot) })
	}

	done := make(chan struct{})
	go func() {
		err := g.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(done)
	}()

	p.running = true
	p.stop = stop
	p.done = done
	p.control = control

	p.logger.Info("worker pool started",
		slog.String("worker_id", p.workerID),
		slog.String("queue", p.cfg.Queue),
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Any("plugins", p.plugins.Names()),
	)
	return nil
}

// Stop stops pulling, waits for running tasks and unregisters the worker.
// If ctx ends first, running tasks are cancelled and released.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stop, done, control := p.stop, p.done, p.control
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID))
	stop()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling running tasks")
		p.cancelActive()
		<-done
	}

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := control.eng.UnregisterWorker(uctx, p.workerID); err != nil {
		p.logger.Warn("failed to unregister worker",
			slog.String("worker_id", p.workerID),
			slog.String("error", err.Error()),
		)
	}
	control.eng.Shutdown(uctx)
	control.close()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pool) registration() *cluster.Worker {
	return &cluster.Worker{
		ID:         p.workerID,
		Host:       p.host,
		Port:       p.cfg.WorkerPort,
		Attributes: p.attributes,
	}
}

// ──────────────────────────────────────────────────
// Loops
// ──────────────────────────────────────────────────

// pullLoop is run by each worker goroutine on its own connection.
func (p *Pool) pullLoop(ctx context.Context, slot int) error {
	logger := p.logger.With(slog.Int("slot", slot))

	sess, err := p.dialRetry(ctx)
	if err != nil {
		return nil // stopped before connecting
	}
	defer sess.close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if err := p.queues.Wait(ctx, p.cfg.Queue); err != nil {
			return nil
		}

		t, err := sess.eng.GetNextTask(ctx, p.workerID)
		switch {
		case err == nil:
			p.handle(ctx, sess, t)
		case errors.Is(err, coord.ErrTimeout):
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, coord.ErrConnection):
			logger.Warn("connection lost while pulling", slog.String("error", err.Error()))
			if err := backoff.Retry(ctx, p.backoff, 0, sess.client.Reconnect); err != nil {
				return nil
			}
		default:
			logger.Error("pull failed", slog.String("error", err.Error()))
			if err := backoff.Sleep(ctx, p.backoff.Delay(1)); err != nil {
				return nil
			}
		}
	}
}

// handle executes one claimed task. Tasks over their plugin's concurrency
// cap are handed back to the queue.
func (p *Pool) handle(ctx context.Context, sess *session, t *task.Task) {
	q := t.Queue
	if q == "" {
		q = p.cfg.Queue
	}
	r := &reconnectingReporter{sess: sess, backoff: p.backoff}

	if !p.queues.Acquire(q, t.Plugin) {
		p.logger.Debug("plugin at capacity, releasing task",
			slog.String("task_id", t.ID),
			slog.String("plugin", t.Plugin),
		)
		if err := r.ReleaseTask(context.Background(), t.ID); err != nil {
			p.logger.Error("failed to release task",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
		_ = backoff.Sleep(ctx, p.backoff.Delay(1)) //nolint:errcheck // loop re-checks ctx
		return
	}
	defer p.queues.Release(q, t.Plugin)

	execCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.track(t.ID, cancel)
	defer p.untrack(t.ID)

	if err := p.executor.Execute(execCtx, r, t); err != nil {
		p.logger.Debug("task execution failed",
			slog.String("task_id", t.ID),
			slog.String("plugin", t.Plugin),
			slog.String("error", err.Error()),
		)
	}
	p.processed.Add(1)
}

// heartbeatLoop stamps the worker's heartbeat every HeartbeatInterval on
// the control connection. A worker removed from the registry by someone
// else registers again.
func (p *Pool) heartbeatLoop(ctx context.Context, control *session) error {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := control.eng.Heartbeat(ctx, p.workerID)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, coord.ErrWorkerNotFound):
			p.logger.Warn("worker missing from registry, registering again", slog.String("worker_id", p.workerID))
			if err := control.eng.RegisterWorker(ctx, p.registration()); err != nil {
				p.logger.Error("re-register failed", slog.String("error", err.Error()))
			}
		case errors.Is(err, coord.ErrConnection):
			p.logger.Warn("heartbeat connection lost", slog.String("error", err.Error()))
			if err := backoff.Retry(ctx, p.backoff, 0, control.client.Reconnect); err != nil {
				return nil
			}
		default:
			p.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
		}
	}
}

// ──────────────────────────────────────────────────
// Connections
// ──────────────────────────────────────────────────

// session is one connection with the engine built on it.
type session struct {
	client *kv.Client
	eng    *engine.Engine
}

func (s *session) close() {
	_ = s.client.Disconnect() //nolint:errcheck // closing on shutdown
}

func (p *Pool) dial(ctx context.Context) (*session, error) {
	c := kv.New(
		kv.WithLogger(p.logger),
		kv.WithPassword(p.cfg.RedisPassword),
		kv.WithDB(p.cfg.RedisDB),
	)
	if err := c.Connect(ctx, p.cfg.RedisHost, p.cfg.RedisPort); err != nil {
		return nil, err
	}
	opts := []engine.Option{engine.WithConfig(p.cfg), engine.WithLogger(p.logger)}
	eng, err := engine.New(redisstore.New(c, redisstore.WithLogger(p.logger)), append(opts, p.engineOpts...)...)
	if err != nil {
		_ = c.Disconnect() //nolint:errcheck // engine never used the connection
		return nil, err
	}
	return &session{client: c, eng: eng}, nil
}

func (p *Pool) dialRetry(ctx context.Context) (*session, error) {
	var sess *session
	err := backoff.Retry(ctx, p.backoff, 0, func(ctx context.Context) error {
		s, err := p.dial(ctx)
		if err != nil {
			p.logger.Warn("connect failed", slog.String("error", err.Error()))
			return err
		}
		sess = s
		return nil
	})
	return sess, err
}

// reconnectingReporter retries a report across reconnects. Errors other
// than connection loss are returned as is.
type reconnectingReporter struct {
	sess    *session
	backoff backoff.Strategy
}

func (r *reconnectingReporter) CompleteTask(ctx context.Context, taskID, result string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.sess.eng.CompleteTask(ctx, taskID, result) })
}

func (r *reconnectingReporter) FailTask(ctx context.Context, taskID, errMsg string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.sess.eng.FailTask(ctx, taskID, errMsg) })
}

func (r *reconnectingReporter) ReleaseTask(ctx context.Context, taskID string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.sess.eng.ReleaseTask(ctx, taskID) })
}

func (r *reconnectingReporter) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var result error
	err := backoff.Retry(ctx, r.backoff, reportAttempts, func(ctx context.Context) error {
		if !r.sess.client.IsConnected() {
			if err := r.sess.client.Reconnect(ctx); err != nil {
				return err
			}
		}
		result = fn(ctx)
		if errors.Is(result, coord.ErrConnection) {
			return result
		}
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

// ──────────────────────────────────────────────────
// Active task tracking
// ──────────────────────────────────────────────────

func (p *Pool) track(taskID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[taskID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(taskID string) {
	p.activeMu.Lock()
	delete(p.active, taskID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.active {
		p.logger.Warn("cancelling running task", slog.String("task_id", taskID))
		cancel()
	}
}
