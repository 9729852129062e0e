package store

import (
	"context"

	"github.com/jacentio/attrmap/backend"
)

// Constraints runs each type's validation hook once per entity: before puts and deletes, and
// after gets and selects. Hook errors are returned unchanged.
type Constraints struct {
	next Operations
}

// NewConstraints wraps next.
func NewConstraints(next Operations) *Constraints {
	return &Constraints{next: next}
}

func (c *Constraints) Put(ctx context.Context, d *ItemDescriptor, items ...*Values) error {
	for _, v := range items {
		if err := d.Validate(OpPut, v); err != nil {
			return err
		}
	}
	return c.next.Put(ctx, d, items...)
}

func (c *Constraints) Get(ctx context.Context, d *ItemDescriptor, id any, fields ...string) (*Values, error) {
	v, err := c.next.Get(ctx, d, id, fields...)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(OpGet, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Delete validates an entity carrying only its identity.
func (c *Constraints) Delete(ctx context.Context, d *ItemDescriptor, ids []any, fields ...string) error {
	for _, id := range ids {
		if err := d.Validate(OpDelete, NewValues(id)); err != nil {
			return err
		}
	}
	return c.next.Delete(ctx, d, ids, fields...)
}

func (c *Constraints) Select(ctx context.Context, cmd *SelectCommand) (*SelectResult, error) {
	res, err := c.next.Select(ctx, cmd)
	if err != nil || cmd.Descriptor == nil {
		return res, err
	}
	// Count rows are not entities.
	if sel, err := cmd.parse(); err != nil || sel.Projection == backend.ProjectCount {
		return res, err
	}
	for _, v := range res.Items {
		if err := cmd.Descriptor.Validate(OpSelect, v); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Constraints) SelectScalar(ctx context.Context, cmd *SelectCommand) (any, error) {
	return c.next.SelectScalar(ctx, cmd)
}

var _ Operations = (*Constraints)(nil)
