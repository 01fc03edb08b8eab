// Package plugin defines the capability interface task executors implement
// and a registry that maps plugin names to executors.
//
// Plugins are registered explicitly at startup. A worker looks up the
// plugin named by a task's plugin field, runs it through the middleware
// chain, and reports the returned string as the task result.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/coord/task"
)

// Plugin executes tasks of one kind.
type Plugin interface {
	// Name is the value tasks carry in their plugin field.
	Name() string

	// Execute runs the task and returns its result. A non-nil error fails
	// the task with the error text.
	Execute(ctx context.Context, t *task.Task) (string, error)
}

// Configurable is implemented by plugins that carry execution options.
type Configurable interface {
	Plugin
	Options() Options
}

// Options configures how a worker runs a plugin.
type Options struct {
	// Timeout bounds one execution when the task carries no timeout of its
	// own. Zero means no limit.
	Timeout time.Duration

	// MaxConcurrency caps simultaneous executions per worker process. Zero
	// means unlimited.
	MaxConcurrency int
}

// Option is a functional option for plugin options.
type Option func(*Options)

// WithTimeout sets the default execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxConcurrency caps simultaneous executions per worker process.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) {
		o.MaxConcurrency = n
	}
}

// OptionsOf returns p's options, or the zero Options.
func OptionsOf(p Plugin) Options {
	if c, ok := p.(Configurable); ok {
		return c.Options()
	}
	return Options{}
}

// Func adapts a function to Plugin.
type Func struct {
	name string
	fn   func(ctx context.Context, t *task.Task) (string, error)
	opts Options
}

// NewFunc creates a Plugin from fn.
func NewFunc(name string, fn func(ctx context.Context, t *task.Task) (string, error), opts ...Option) *Func {
	f := &Func{name: name, fn: fn}
	for _, opt := range opts {
		opt(&f.opts)
	}
	return f
}

func (f *Func) Name() string { return f.name }

func (f *Func) Options() Options { return f.opts }

func (f *Func) Execute(ctx context.Context, t *task.Task) (string, error) {
	return f.fn(ctx, t)
}
