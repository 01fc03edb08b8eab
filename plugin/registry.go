package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/coord"
)

// Registry maps plugin names to plugins. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds p. An empty name is coord.ErrInvalidArgument and a name
// already taken is coord.ErrAlreadyExists.
func (r *Registry) Register(p Plugin) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("coord/plugin: register: %w: empty plugin name", coord.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; ok {
		return fmt.Errorf("coord/plugin: register %q: %w", name, coord.ErrAlreadyExists)
	}
	r.plugins[name] = p
	return nil
}

// MustRegister is Register that panics on error. Use it in main packages
// during startup wiring.
func (r *Registry) MustRegister(plugins ...Plugin) {
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Get returns the plugin registered under name.
// Returns false if no plugin is registered.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Lookup is Get with an error: coord.ErrNotFound for unknown names.
func (r *Registry) Lookup(name string) (Plugin, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("coord/plugin: %q: %w", name, coord.ErrNotFound)
	}
	return p, nil
}

// Names returns all registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
