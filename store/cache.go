package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jacentio/attrmap/internal/shard"
)

// Cache keeps loaded and stored entities keyed by container and formatted identity. Reads
// that the cached entry covers are answered without a fetch; a partial hit loads the missing
// fields and merges them into the cached container in place. Writes update the cache only
// after the next layer succeeds; a failed write evicts its entries. A fetch that overlaps a
// write to the same stripe is returned but not cached.
type Cache struct {
	next    Operations
	config  Config
	logger  *slog.Logger
	stripes []*cacheStripe
}

type cacheStripe struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry

	// gen counts writes and evictions in the stripe.
	gen uint64
}

// cacheEntry is a cached container, or a marker that the entity was deleted in full.
type cacheEntry struct {
	values  *Values
	deleted bool
}

// NewCache wraps next with a cache of config.CacheShards lock stripes.
func NewCache(next Operations, config Config) *Cache {
	config.defaults()
	c := &Cache{
		next:    next,
		config:  config,
		logger:  config.Logger,
		stripes: make([]*cacheStripe, config.CacheShards),
	}
	for i := range c.stripes {
		c.stripes[i] = &cacheStripe{entries: make(map[string]*cacheEntry)}
	}
	return c
}

func cacheKey(container, itemName string) string {
	return container + "\x00" + itemName
}

func (c *Cache) stripe(container, itemName string) *cacheStripe {
	return c.stripes[shard.Index(container, itemName, len(c.stripes))]
}

// itemName formats an identity the way the engine names stored items.
func (c *Cache) itemName(d *ItemDescriptor, id any) (string, error) {
	f := d.Identity.Formatter
	if f == nil {
		f = c.config.Formatter
	}
	return f.Format(d.Identity, canonical(id))
}

// covers reports whether a cached container answers a get for fields.
func covers(d *ItemDescriptor, v *Values, fields []string) bool {
	if len(fields) > 0 {
		return v.Has(fields...)
	}
	return v.Complete() || (!d.Dynamic && v.Has(d.FieldNames()...))
}

// Get answers from the cache when the entry covers fields, or is a delete marker.
func (c *Cache) Get(ctx context.Context, d *ItemDescriptor, id any, fields ...string) (*Values, error) {
	name, err := c.itemName(d, id)
	if err != nil {
		return c.next.Get(ctx, d, id, fields...)
	}
	key := cacheKey(d.Container, name)
	s := c.stripe(d.Container, name)

	s.mu.RLock()
	entry := s.entries[key]
	gen := s.gen
	s.mu.RUnlock()
	if entry != nil {
		if entry.deleted {
			c.logger.Debug("cache hit", "container", d.Container, "item", name, "deleted", true)
			return nil, nil
		}
		if covers(d, entry.values, fields) {
			c.logger.Debug("cache hit", "container", d.Container, "item", name)
			return entry.values, nil
		}
	}
	c.logger.Debug("cache miss", "container", d.Container, "item", name)

	v, err := c.next.Get(ctx, d, id, fields...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		c.logger.Debug("cache fill skipped", "container", d.Container, "item", name)
		return v, nil
	}
	cur := s.entries[key]
	if v == nil {
		// A partial entry may describe fields that are gone now.
		if cur != nil && !cur.deleted {
			delete(s.entries, key)
		}
		return nil, nil
	}
	if cur != nil && !cur.deleted {
		cur.values.Merge(v)
		return cur.values, nil
	}
	s.entries[key] = &cacheEntry{values: v}
	return v, nil
}

// Put writes through and then merges each item into its cached entry.
func (c *Cache) Put(ctx context.Context, d *ItemDescriptor, items ...*Values) error {
	if err := c.next.Put(ctx, d, items...); err != nil {
		// The stored state is unknown after a failed write.
		for _, v := range items {
			if name, nerr := c.itemName(d, v.ID()); nerr == nil {
				c.Evict(d.Container, name)
			}
		}
		return err
	}
	for _, v := range items {
		name, err := c.itemName(d, v.ID())
		if err != nil {
			continue
		}
		key := cacheKey(d.Container, name)
		s := c.stripe(d.Container, name)
		s.mu.Lock()
		s.gen++
		if cur := s.entries[key]; cur != nil && !cur.deleted {
			cur.values.Merge(v)
		} else {
			s.entries[key] = &cacheEntry{values: v.Clone()}
		}
		s.mu.Unlock()
	}
	return nil
}

// Delete writes through. A full delete leaves a delete marker; a partial delete evicts the
// entry, since only a full delete confirms that every field is gone.
func (c *Cache) Delete(ctx context.Context, d *ItemDescriptor, ids []any, fields ...string) error {
	if err := c.next.Delete(ctx, d, ids, fields...); err != nil {
		for _, id := range ids {
			if name, nerr := c.itemName(d, id); nerr == nil {
				c.Evict(d.Container, name)
			}
		}
		return err
	}
	for _, id := range ids {
		name, err := c.itemName(d, id)
		if err != nil {
			continue
		}
		key := cacheKey(d.Container, name)
		s := c.stripe(d.Container, name)
		s.mu.Lock()
		s.gen++
		if len(fields) == 0 {
			s.entries[key] = &cacheEntry{deleted: true}
		} else {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}
	return nil
}

// Select is not cached.
func (c *Cache) Select(ctx context.Context, cmd *SelectCommand) (*SelectResult, error) {
	return c.next.Select(ctx, cmd)
}

// SelectScalar is not cached.
func (c *Cache) SelectScalar(ctx context.Context, cmd *SelectCommand) (any, error) {
	return c.next.SelectScalar(ctx, cmd)
}

// Evict drops the entry of a stored item, for changes made outside this process.
func (c *Cache) Evict(container, itemName string) {
	s := c.stripe(container, itemName)
	s.mu.Lock()
	s.gen++
	delete(s.entries, cacheKey(container, itemName))
	s.mu.Unlock()
}

// Len returns the number of cached entries, delete markers included.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.stripes {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

var _ Operations = (*Cache)(nil)
