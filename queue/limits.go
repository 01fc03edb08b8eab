package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue pull behaviour for one process.
type Config struct {
	// Name is the queue identifier.
	Name string

	// MaxConcurrency limits how many tasks pulled from this queue may run
	// at once in the local pool. Zero means no queue-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained pulls per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 if RateLimit
	// is set but RateBurst is zero.
	RateBurst int
}

// PluginConfig caps concurrent executions of one plugin on one queue.
type PluginConfig struct {
	QueueName      string
	Plugin         string
	MaxConcurrency int
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

type pluginState struct {
	maxConcurrency int
	active         int
}

// Manager enforces per-queue pull rates and per-queue / per-plugin
// concurrency. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*queueState
	plugins map[string]*pluginState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*queueState, len(configs)),
		plugins: make(map[string]*pluginState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

func pluginKey(queue, plugin string) string {
	return fmt.Sprintf("%s:%s", queue, plugin)
}

// Wait blocks until the queue's rate limiter admits one pull or ctx ends.
// Queues without a rate limit return immediately.
func (m *Manager) Wait(ctx context.Context, queue string) error {
	m.mu.Lock()
	var lim *rate.Limiter
	if qs := m.queues[queue]; qs != nil {
		lim = qs.limiter
	}
	m.mu.Unlock()

	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

// Acquire checks concurrency for the queue and plugin. If the task may run
// it takes a slot and returns true; the caller must Release it afterwards.
func (m *Manager) Acquire(queue, plugin string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs != nil && qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}

	if plugin != "" {
		if ps := m.plugins[pluginKey(queue, plugin)]; ps != nil {
			if ps.maxConcurrency > 0 && ps.active >= ps.maxConcurrency {
				return false
			}
			ps.active++
		}
	}

	if qs != nil {
		qs.active++
	}
	return true
}

// Release frees the slot taken by Acquire.
func (m *Manager) Release(queue, plugin string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if plugin != "" {
		if ps := m.plugins[pluginKey(queue, plugin)]; ps != nil && ps.active > 0 {
			ps.active--
		}
	}
}

// SetQueueConfig updates (or creates) a queue configuration, keeping the
// current active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// SetPluginConfig caps a plugin on a queue. Calling it again replaces the
// previous cap.
func (m *Manager) SetPluginConfig(cfg PluginConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pluginKey(cfg.QueueName, cfg.Plugin)
	ps := &pluginState{maxConcurrency: cfg.MaxConcurrency}
	if existing := m.plugins[key]; existing != nil {
		ps.active = existing.active
	}
	m.plugins[key] = ps
}

// ActiveCount returns the running tasks pulled from a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// PluginActiveCount returns the running tasks of one plugin on a queue.
func (m *Manager) PluginActiveCount(queue, plugin string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.plugins[pluginKey(queue, plugin)]; ps != nil {
		return ps.active
	}
	return 0
}
