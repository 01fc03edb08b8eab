package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/coord"
	"github.com/xraph/coord/ext"
	"github.com/xraph/coord/observability"
	"github.com/xraph/coord/queue"
	relayhook "github.com/xraph/coord/relay_hook"
	"github.com/xraph/coord/store"
)

// instrumentationName is the scope name for engine spans and instruments.
const instrumentationName = "github.com/xraph/coord/engine"

// Engine implements the coordination operations over one store.
type Engine struct {
	store      store.Store
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time

	queue           string
	dequeueTimeout  time.Duration
	livenessTimeout time.Duration
	retention       time.Duration

	publishEvents bool
	userExts      []ext.Extension

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer      trace.Tracer
	dequeueWait metric.Float64Histogram
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithQueue sets the queue tasks are enqueued on and pulled from.
func WithQueue(name string) Option {
	return func(e *Engine) { e.queue = name }
}

// WithDequeueTimeout bounds GetNextTask.
func WithDequeueTimeout(d time.Duration) Option {
	return func(e *Engine) { e.dequeueTimeout = d }
}

// WithLivenessTimeout sets the heartbeat age beyond which a worker is dead.
func WithLivenessTimeout(d time.Duration) Option {
	return func(e *Engine) { e.livenessTimeout = d }
}

// WithRetention expires finished jobs and their tasks after d. Zero keeps
// them until CleanupJob.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) { e.retention = d }
}

// WithClock overrides the time source used for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConfig applies the queue, timeouts and retention from cfg.
func WithConfig(cfg coord.Config) Option {
	return func(e *Engine) {
		e.queue = cfg.Queue
		e.dequeueTimeout = cfg.DequeueTimeout.Duration
		e.livenessTimeout = cfg.LivenessTimeout.Duration
		e.retention = cfg.RetentionTTL.Duration
	}
}

// WithExtension registers an extension after the built-in ones.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.userExts = append(e.userExts, x) }
}

// WithoutEvents stops the engine from publishing task events on
// task.EventsChannel.
func WithoutEvents() Option {
	return func(e *Engine) { e.publishEvents = false }
}

// WithTracerProvider sets a custom OTel TracerProvider for engine spans.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the dequeue-wait
// histogram and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("coord/engine: new: %w: nil store", coord.ErrInvalidArgument)
	}

	cfg := coord.DefaultConfig()
	e := &Engine{
		store:           s,
		logger:          slog.Default(),
		now:             time.Now,
		queue:           cfg.Queue,
		dequeueTimeout:  cfg.DequeueTimeout.Duration,
		livenessTimeout: cfg.LivenessTimeout.Duration,
		publishEvents:   true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.queue == "" {
		return nil, fmt.Errorf("coord/engine: new: %w: empty queue name", coord.ErrInvalidArgument)
	}
	if e.dequeueTimeout <= 0 {
		return nil, fmt.Errorf("coord/engine: new: %w: dequeue timeout %s", coord.ErrInvalidArgument, e.dequeueTimeout)
	}
	if e.livenessTimeout <= 0 {
		return nil, fmt.Errorf("coord/engine: new: %w: liveness timeout %s", coord.ErrInvalidArgument, e.livenessTimeout)
	}

	tp := e.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	e.tracer = tp.Tracer(instrumentationName)

	mp := e.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	// Instrument creation errors come with a usable noop instrument.
	e.dequeueWait, _ = mp.Meter(instrumentationName).Float64Histogram("coord.queue.dequeue_wait",
		metric.WithDescription("Time GetNextTask waited for a task in seconds"),
		metric.WithUnit("s"),
	)

	e.extensions = ext.NewRegistry(e.logger)
	e.extensions.Register(observability.NewMetricsExtensionWithMeter(mp.Meter(observability.MeterName)))
	if e.publishEvents {
		e.extensions.Register(relayhook.New(s, relayhook.WithClock(e.now)))
	}
	for _, x := range e.userExts {
		e.extensions.Register(x)
	}

	return e, nil
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Queue returns the queue the engine enqueues on and pulls from.
func (e *Engine) Queue() string { return e.queue }

// DequeueTimeout returns the GetNextTask bound.
func (e *Engine) DequeueTimeout() time.Duration { return e.dequeueTimeout }

// LivenessTimeout returns the heartbeat age beyond which a worker is dead.
func (e *Engine) LivenessTimeout() time.Duration { return e.livenessTimeout }

// Ping checks the store round trip.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Shutdown notifies extensions. It does not close the store.
func (e *Engine) Shutdown(ctx context.Context) {
	e.extensions.EmitShutdown(ctx)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "coord.engine."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// endSpan records err on span and ends it. Timeouts are an expected outcome
// of polling and are not marked as errors.
func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, coord.ErrTimeout) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// bump increments a stats counter. Stats are advisory, so failures are only
// logged.
func (e *Engine) bump(ctx context.Context, name string) {
	if _, err := e.store.Increment(ctx, name, 1); err != nil {
		e.logger.Warn("stats counter update failed",
			slog.String("counter", name),
			slog.String("error", err.Error()),
		)
	}
}

// queueFor returns the queue a task's descriptors go to.
func (e *Engine) queueFor(name string) string {
	if name != "" {
		return name
	}
	return e.queue
}

func (e *Engine) enqueue(ctx context.Context, queueName string, d queue.Descriptor) error {
	payload, err := d.Encode()
	if err != nil {
		return err
	}
	return e.store.Enqueue(ctx, e.queueFor(queueName), payload)
}

func (e *Engine) unmark(ctx context.Context, workerID, taskID string) {
	if _, err := e.store.ClaimInflight(ctx, workerID, taskID); err != nil {
		e.logger.Warn("failed to clear in-flight entry",
			slog.String("worker_id", workerID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func ignorable(err error) bool {
	return errors.Is(err, coord.ErrInvalidState) || errors.Is(err, coord.ErrNotFound)
}
