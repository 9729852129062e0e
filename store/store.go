package store

import (
	"context"

	"github.com/jacentio/attrmap/backend"
)

// Store is the composed persistence pipeline.
type Store struct {
	Operations

	client   backend.Client
	config   Config
	registry *Registry
	cache    *Cache
}

// New creates a Store over client.
func New(client backend.Client, config Config) (*Store, error) {
	return NewWithRegistry(client, config, NewRegistry())
}

// NewWithRegistry creates a Store that resolves descriptors through registry.
func NewWithRegistry(client backend.Client, config Config, registry *Registry) (*Store, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	enforced := backend.Enforce(client, backend.Policy{ConsistentReads: config.ConsistentReads})
	engine, err := NewEngine(enforced, config, registry)
	if err != nil {
		return nil, err
	}

	s := &Store{
		client:   enforced,
		config:   config,
		registry: registry,
	}
	var ops Operations = NewConstraints(engine)
	if !config.DisableProvisioning {
		ops = NewProvisioner(ops, enforced, config.Logger)
	}
	if !config.DisableCache {
		s.cache = NewCache(ops, config)
		ops = s.cache
	}
	s.Operations = ops
	return s, nil
}

// Registry returns the descriptor registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Cache returns the entity cache, or nil when it is disabled.
func (s *Store) Cache() *Cache {
	return s.cache
}

// Evict drops a cached item. It is a no-op when the cache is disabled.
func (s *Store) Evict(container, itemName string) {
	if s.cache != nil {
		s.cache.Evict(container, itemName)
	}
}

// Containers lists every container in the backing store.
func (s *Store) Containers(ctx context.Context) ([]string, error) {
	return backend.ListAllContainers(ctx, s.client)
}
