package source

import (
	"fmt"
	"sync"
)

// Factory constructs a fresh, uninitialized adapter.
type Factory func() Adapter

// Registry maps adapter handles to factories. Adapters are registered
// by value at wiring time, never resolved dynamically at runtime.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a handle to a factory. Re-registering a handle
// replaces the previous factory.
func (r *Registry) Register(handle string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[handle] = f
}

// New constructs an adapter for the given handle.
func (r *Registry) New(handle string) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[handle]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source adapter: %q", handle)
	}
	return f(), nil
}

// Handles returns the registered handle names.
func (r *Registry) Handles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]string, 0, len(r.factories))
	for h := range r.factories {
		handles = append(handles, h)
	}
	return handles
}
