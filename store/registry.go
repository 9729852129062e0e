package store

import "sync"

// Registry resolves and memoizes item descriptors. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byType  map[any]*ItemDescriptor
	dynamic map[string]*ItemDescriptor
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byType:  make(map[any]*ItemDescriptor),
		dynamic: make(map[string]*ItemDescriptor),
	}
}

// Resolve returns the descriptor of T, building it on first use. Later calls return the same
// descriptor. Schema errors are returned on every call until the schema is fixed.
func Resolve[T any, PT Entity[T]](r *Registry) (*ItemDescriptor, error) {
	key := any(PT(nil))

	r.mu.RLock()
	d, ok := r.byType[key]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byType[key]; ok {
		return d, nil
	}
	d, err := buildDescriptor(PT(new(T)).Schema())
	if err != nil {
		return nil, err
	}
	r.byType[key] = d
	return d, nil
}

// AdHoc returns a dynamic descriptor for container, for access without a Go type. Every stored
// attribute maps to a field of the same name holding a list of strings.
func (r *Registry) AdHoc(container string) *ItemDescriptor {
	r.mu.RLock()
	d, ok := r.dynamic[container]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dynamic[container]; ok {
		return d
	}
	d = newDynamicDescriptor(container)
	r.dynamic[container] = d
	return d
}

// Len returns the number of resolved types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}
