package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/coord"
	"github.com/xraph/coord/task"
)

// Definition is a typed plugin. The task's data field is decoded as JSON
// into T before Handler runs; empty data yields the zero T.
type Definition[T any] struct {
	// PluginName is the unique plugin name.
	PluginName string

	// Handler processes the decoded payload and returns the task result.
	Handler func(ctx context.Context, payload T) (string, error)

	// Opts configures timeout and concurrency.
	Opts Options
}

// NewDefinition creates a typed plugin definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) (string, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		PluginName: name,
		Handler:    handler,
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

func (d *Definition[T]) Name() string { return d.PluginName }

func (d *Definition[T]) Options() Options { return d.Opts }

// Execute decodes t.Data into T and calls Handler. A payload that does not
// decode fails with coord.ErrDecode.
func (d *Definition[T]) Execute(ctx context.Context, t *task.Task) (string, error) {
	var payload T
	if t.Data != "" {
		if err := json.Unmarshal([]byte(t.Data), &payload); err != nil {
			return "", fmt.Errorf("coord/plugin: %s: payload for task %s: %w: %w", d.PluginName, t.ID, coord.ErrDecode, err)
		}
	}
	return d.Handler(ctx, payload)
}
