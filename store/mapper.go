package store

import (
	"context"
	"fmt"

	"github.com/jacentio/attrmap/backend"
)

// Mapper stores and loads entities of type T through a Store.
type Mapper[T any] struct {
	store *Store
	desc  *ItemDescriptor
}

// NewMapper resolves the descriptor of T and returns a Mapper for it.
func NewMapper[T any, PT Entity[T]](s *Store) (*Mapper[T], error) {
	d, err := Resolve[T, PT](s.registry)
	if err != nil {
		return nil, err
	}
	return &Mapper[T]{store: s, desc: d}, nil
}

// Descriptor returns the resolved descriptor of T.
func (m *Mapper[T]) Descriptor() *ItemDescriptor {
	return m.desc
}

// Put stores every mapped field of each entity. Version fields are not updated in the
// entities; reload an entity to observe its new version.
func (m *Mapper[T]) Put(ctx context.Context, entities ...*T) error {
	items := make([]*Values, len(entities))
	for i, e := range entities {
		v, err := m.desc.ToValues(e)
		if err != nil {
			return err
		}
		items[i] = v
	}
	return m.store.Put(ctx, m.desc, items...)
}

// Get loads the entity with id. It returns ErrNotFound when nothing is stored.
func (m *Mapper[T]) Get(ctx context.Context, id any) (*T, error) {
	return m.GetFields(ctx, id)
}

// GetFields loads only the named fields of the entity with id. Other fields keep their zero
// values.
func (m *Mapper[T]) GetFields(ctx context.Context, id any, fields ...string) (*T, error) {
	v, err := m.store.Get(ctx, m.desc, id, fields...)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, m.desc.Type, id)
	}
	return m.entity(v)
}

// Delete removes the entities with ids.
func (m *Mapper[T]) Delete(ctx context.Context, ids ...any) error {
	if len(ids) == 0 {
		return nil
	}
	return m.store.Delete(ctx, m.desc, ids)
}

// DeleteFields removes the named fields of the entity with id.
func (m *Mapper[T]) DeleteFields(ctx context.Context, id any, fields ...string) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields to delete from %s %v", ErrData, m.desc.Type, id)
	}
	return m.store.Delete(ctx, m.desc, []any{id}, fields...)
}

// Select runs cmd and decodes every row as a T. The boolean reports whether cancellation
// discarded pages. cmd.Descriptor is set to the descriptor of T.
func (m *Mapper[T]) Select(ctx context.Context, cmd *SelectCommand) ([]*T, bool, error) {
	cmd.Descriptor = m.desc
	res, err := m.store.Select(ctx, cmd)
	if err != nil {
		return nil, false, err
	}
	out := make([]*T, 0, len(res.Items))
	for _, v := range res.Items {
		e, err := m.entity(v)
		if err != nil {
			return nil, false, err
		}
		out = append(out, e)
	}
	return out, res.Cancelled, nil
}

// Count returns the number of entities matching where, an optional where clause without the
// "where" keyword.
func (m *Mapper[T]) Count(ctx context.Context, where string) (int64, error) {
	expr := "select count(*) from " + backend.QuoteName(m.desc.Container)
	if where != "" {
		expr += " where " + where
	}
	n, err := m.store.SelectScalar(ctx, &SelectCommand{Descriptor: m.desc, Expression: expr})
	if err != nil {
		return 0, err
	}
	count, _ := n.(int64)
	return count, nil
}

func (m *Mapper[T]) entity(v *Values) (*T, error) {
	e := new(T)
	if err := m.desc.FromValues(v, e); err != nil {
		return nil, err
	}
	return e, nil
}
