package backend

import "context"

// Policy configures the consistency layer.
type Policy struct {
	// ConsistentReads forces strongly-consistent reads for every call.
	ConsistentReads bool
}

// Enforce wraps c so that reads are strongly consistent when the policy or the context asks
// for it, and writes inside a write-log scope are recorded instead of sent to c.
func Enforce(c Client, p Policy) Client {
	return &enforcer{next: c, policy: p}
}

type enforcer struct {
	next   Client
	policy Policy
}

func (e *enforcer) consistent(ctx context.Context, requested bool) bool {
	return requested || e.policy.ConsistentReads || ConsistentRead(ctx)
}

func (e *enforcer) CreateContainer(ctx context.Context, name string) error {
	return e.next.CreateContainer(ctx, name)
}

func (e *enforcer) ListContainers(ctx context.Context, token string) ([]string, string, error) {
	return e.next.ListContainers(ctx, token)
}

func (e *enforcer) Put(ctx context.Context, container string, item Item, cond *Condition) error {
	if log := WriteLogFrom(ctx); log != nil {
		if cond != nil {
			return ErrConditionalWriteLogged
		}
		return log.Record(ctx, NewWriteRequest(OpPut, container, []Item{item}))
	}
	return e.next.Put(ctx, container, item, cond)
}

func (e *enforcer) BatchPut(ctx context.Context, container string, items []Item) error {
	if log := WriteLogFrom(ctx); log != nil {
		return log.Record(ctx, NewWriteRequest(OpBatchPut, container, items))
	}
	return e.next.BatchPut(ctx, container, items)
}

func (e *enforcer) Get(ctx context.Context, container, itemName string, names []string, consistent bool) ([]Attribute, error) {
	return e.next.Get(ctx, container, itemName, names, e.consistent(ctx, consistent))
}

func (e *enforcer) Delete(ctx context.Context, container, itemName string, attrs []Attribute) error {
	if log := WriteLogFrom(ctx); log != nil {
		return log.Record(ctx, NewWriteRequest(OpDelete, container, []Item{{Name: itemName, Attributes: attrs}}))
	}
	return e.next.Delete(ctx, container, itemName, attrs)
}

func (e *enforcer) BatchDelete(ctx context.Context, container string, items []Item) error {
	if log := WriteLogFrom(ctx); log != nil {
		return log.Record(ctx, NewWriteRequest(OpBatchDelete, container, items))
	}
	return e.next.BatchDelete(ctx, container, items)
}

func (e *enforcer) Query(ctx context.Context, container, expression, token string, consistent bool) (*Page, error) {
	return e.next.Query(ctx, container, expression, token, e.consistent(ctx, consistent))
}
