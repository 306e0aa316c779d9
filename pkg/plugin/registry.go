// Package plugin resolves reporter, renderer and controller declarations into
// validated instances.
//
// A declaration names a class. The class must have a source unit at
// <basePath>/<Class>.plugin (a TOML manifest, possibly empty) and a factory
// registered under the same name. Resolution checks both, builds the
// instance from the declaration's attributes and verifies it satisfies the
// requested capability.
package plugin

import (
	"sort"
	"sync"

	"github.com/armorclaw/stderr/pkg/configtree"
)

// Factory builds a plugin instance from its declaration attributes.
type Factory func(attrs configtree.Attributes) (interface{}, error)

// Registry maps class names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns registered class names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
