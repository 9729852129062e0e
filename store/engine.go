package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jacentio/attrmap/backend"
	"github.com/jacentio/attrmap/internal/span"
)

// Operations is the contract shared by the engine and every layer wrapped around it.
type Operations interface {
	// Put stores one or more entities of d. A nil field value removes the stored attribute.
	Put(ctx context.Context, d *ItemDescriptor, items ...*Values) error

	// Get loads an entity, restricted to fields when given. It returns nil when nothing is stored.
	Get(ctx context.Context, d *ItemDescriptor, id any, fields ...string) (*Values, error)

	// Delete removes the given fields of each entity, or the whole entity when no fields are given.
	Delete(ctx context.Context, d *ItemDescriptor, ids []any, fields ...string) error

	// Select runs a select expression across pages.
	Select(ctx context.Context, cmd *SelectCommand) (*SelectResult, error)

	// SelectScalar runs a select expression and reduces the result to a single value.
	SelectScalar(ctx context.Context, cmd *SelectCommand) (any, error)
}

// Indexer receives indexed field values after every successful put.
type Indexer interface {
	Index(ctx context.Context, container string, docs []IndexDocument) error
}

// IndexDocument is the flattened form of one entity handed to an Indexer.
type IndexDocument struct {
	ID     string
	Fields map[string]string
}

// SelectCommand is a select expression and its paging state. Cancel may be called from any
// goroutine while the select runs; it takes effect at the next page boundary.
type SelectCommand struct {
	// Descriptor decodes result rows. When nil, rows are decoded as untyped string lists.
	Descriptor *ItemDescriptor

	Expression string

	// NextToken resumes a previous select.
	NextToken string

	// MaxPages caps the number of pages fetched. Zero means no cap.
	MaxPages int

	// Consistent requests strongly-consistent reads.
	Consistent bool

	cancelled atomic.Bool
}

// Cancel stops the select before its next page.
func (c *SelectCommand) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (c *SelectCommand) Cancelled() bool {
	return c.cancelled.Load()
}

func (c *SelectCommand) parse() (*backend.Select, error) {
	sel, err := backend.ParseSelect(c.Expression)
	if err != nil {
		return nil, err
	}
	if c.Descriptor != nil && c.Descriptor.Container != sel.Container {
		return nil, fmt.Errorf("%w: expression selects from %q, %s maps to %q",
			ErrConfiguration, sel.Container, c.Descriptor.Type, c.Descriptor.Container)
	}
	return sel, nil
}

// SelectResult is the outcome of a select.
type SelectResult struct {
	Items []*Values

	// NextToken resumes the select when pages remain.
	NextToken string

	// Cancelled is set when cancellation discarded a page that would have been fetched.
	Cancelled bool
}

// Engine maps values to attributes of a backend.Client.
type Engine struct {
	client   backend.Client
	config   Config
	codec    *span.Codec
	registry *Registry
	now      func() time.Time
}

// NewEngine creates an Engine. Untyped selects resolve their descriptors through registry.
func NewEngine(client backend.Client, config Config, registry *Registry) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	codec, err := span.New(config.MaxAttributeLength, config.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		client:   client,
		config:   config,
		codec:    codec,
		registry: registry,
		now:      time.Now,
	}, nil
}

// Put stores items. A single item is one write; more are sent in batches of MaxBatchSize in
// input order. Conditional versioning is only supported for single-item puts.
func (e *Engine) Put(ctx context.Context, d *ItemDescriptor, items ...*Values) error {
	if len(items) == 0 {
		return nil
	}
	version := d.Version()
	if len(items) > 1 && version != nil && version.Version == VersionConditional {
		return fmt.Errorf("%w: %s", ErrConditionalBatch, d.Type)
	}

	var (
		writes  = make([]backend.Item, 0, len(items))
		nulls   []backend.Item
		next    = make([]any, len(items))
		cond    *backend.Condition
		indexed []IndexDocument
	)
	for i, v := range items {
		name, err := e.itemName(d, v.ID())
		if err != nil {
			return err
		}
		w := v
		if version != nil && v.Has(version.Name) {
			prev, _ := v.Get(version.Name)
			if next[i], err = nextVersion(version, prev, e.now()); err != nil {
				return err
			}
			if version.Version == VersionConditional {
				if cond, err = e.versionCondition(version, prev); err != nil {
					return err
				}
			}
			w = v.Clone()
			w.Set(version.Name, next[i])
		}
		item, removed, doc, err := e.encode(d, name, w)
		if err != nil {
			return err
		}
		if len(item.Attributes) > 0 {
			writes = append(writes, item)
		}
		if len(removed) > 0 {
			nulls = append(nulls, backend.Item{Name: name, Attributes: removed})
		}
		if doc != nil {
			indexed = append(indexed, *doc)
		}
	}

	if err := e.write(ctx, d, writes, cond); err != nil {
		return err
	}
	if err := e.remove(ctx, d, nulls); err != nil {
		return err
	}
	for i, v := range items {
		if next[i] != nil {
			v.Set(version.Name, next[i])
		}
	}
	if len(indexed) > 0 && e.config.Indexer != nil {
		if err := e.config.Indexer.Index(ctx, d.Container, indexed); err != nil {
			return fmt.Errorf("index %s: %w", d.Container, err)
		}
	}
	return nil
}

func (e *Engine) write(ctx context.Context, d *ItemDescriptor, items []backend.Item, cond *backend.Condition) error {
	if len(items) == 1 {
		err := e.client.Put(ctx, d.Container, items[0], cond)
		if cond != nil && errors.Is(err, backend.ErrConditionFailed) {
			return fmt.Errorf("%w: %s %s: %w", ErrConcurrentModification, d.Type, items[0].Name, err)
		}
		return err
	}
	for start := 0; start < len(items); start += e.config.MaxBatchSize {
		batch := items[start:min(start+e.config.MaxBatchSize, len(items))]
		e.config.Logger.Debug("batch put", "container", d.Container, "items", len(batch))
		if err := e.client.BatchPut(ctx, d.Container, batch); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) remove(ctx context.Context, d *ItemDescriptor, items []backend.Item) error {
	if len(items) == 1 {
		return e.client.Delete(ctx, d.Container, items[0].Name, items[0].Attributes)
	}
	for start := 0; start < len(items); start += e.config.MaxBatchSize {
		batch := items[start:min(start+e.config.MaxBatchSize, len(items))]
		e.config.Logger.Debug("batch delete", "container", d.Container, "items", len(batch))
		if err := e.client.BatchDelete(ctx, d.Container, batch); err != nil {
			return err
		}
	}
	return nil
}

// encode turns the fields of v into stored attributes. Null fields are returned as removals.
// The index document is nil when no indexed field has a value.
func (e *Engine) encode(d *ItemDescriptor, name string, v *Values) (backend.Item, []backend.Attribute, *IndexDocument, error) {
	item := backend.Item{Name: name}
	var (
		removed []backend.Attribute
		doc     *IndexDocument
	)
	for _, field := range v.Fields() {
		a, ok := d.Attribute(field)
		if !ok {
			return item, nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, d.Type, field)
		}
		value, _ := v.Get(field)
		if value == nil {
			removed = append(removed, backend.Attribute{Name: a.StoreName})
			continue
		}
		stored, err := e.formatField(a, value)
		if err != nil {
			return item, nil, nil, fmt.Errorf("%s.%s: %w", d.Type, a.Name, err)
		}
		for i, s := range stored {
			item.Attributes = append(item.Attributes, backend.Attribute{Name: a.StoreName, Value: s, Replace: i == 0})
		}
		if a.Indexed && !a.List {
			if doc == nil {
				doc = &IndexDocument{ID: name, Fields: make(map[string]string)}
			}
			doc.Fields[a.StoreName] = value.(string)
		}
	}
	return item, removed, doc, nil
}

// formatField returns the stored values of one non-null field: one per list element, one per
// chunk of a spanned value, or a single value.
func (e *Engine) formatField(a *AttributeDescriptor, value any) ([]string, error) {
	if a.List {
		elems, ok := value.([]any)
		if !ok {
			elems = []any{value}
		}
		out := make([]string, 0, len(elems))
		for _, elem := range elems {
			s, err := e.format(a, elem)
			if err != nil {
				return nil, err
			}
			if err := e.checkLength(s); err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, err := e.format(a, value)
	if err != nil {
		return nil, err
	}
	if a.Span.Spanned() {
		chunks, err := e.codec.Split(s, a.Span)
		if err != nil {
			return nil, spanError(err)
		}
		return chunks, nil
	}
	if err := e.checkLength(s); err != nil {
		return nil, err
	}
	return []string{s}, nil
}

func (e *Engine) checkLength(s string) error {
	if len(s) > e.config.MaxAttributeLength {
		return fmt.Errorf("%w: %d-byte value exceeds the %d-byte attribute limit", ErrData, len(s), e.config.MaxAttributeLength)
	}
	return nil
}

func spanError(err error) error {
	switch {
	case errors.Is(err, span.ErrNoKey):
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	case errors.Is(err, span.ErrLength):
		return fmt.Errorf("%w: %w", ErrData, err)
	}
	return err
}

func (e *Engine) formatter(a *AttributeDescriptor) Formatter {
	if a.Formatter != nil {
		return a.Formatter
	}
	return e.config.Formatter
}

func (e *Engine) format(a *AttributeDescriptor, v any) (string, error) {
	return e.formatter(a).Format(a, v)
}

func (e *Engine) parse(a *AttributeDescriptor, s string) (any, error) {
	return e.formatter(a).Parse(a, s)
}

// itemName formats an identity as the stored item name.
func (e *Engine) itemName(d *ItemDescriptor, id any) (string, error) {
	id = canonical(id)
	if err := checkIdentity(d, id); err != nil {
		return "", err
	}
	name, err := e.format(d.Identity, id)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", d.Type, d.Identity.Name, err)
	}
	return name, nil
}

// Get loads one entity. With no fields the result is complete and every mapped field that
// was not stored is null.
func (e *Engine) Get(ctx context.Context, d *ItemDescriptor, id any, fields ...string) (*Values, error) {
	name, err := e.itemName(d, id)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, field := range fields {
		a, ok := d.Attribute(field)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, d.Type, field)
		}
		names = append(names, a.StoreName)
	}

	attrs, err := e.client.Get(ctx, d.Container, name, names, false)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	v, err := e.decode(d, id, attrs)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = d.FieldNames()
		v.SetComplete(true)
	}
	for _, field := range fields {
		if !v.Has(field) {
			v.Set(field, nil)
		}
	}
	return v, nil
}

// decode groups stored attributes by name and parses them into a container. Stored
// attributes the descriptor does not map are ignored.
func (e *Engine) decode(d *ItemDescriptor, id any, attrs []backend.Attribute) (*Values, error) {
	var order []string
	grouped := make(map[string][]string)
	for _, attr := range attrs {
		if _, ok := grouped[attr.Name]; !ok {
			order = append(order, attr.Name)
		}
		grouped[attr.Name] = append(grouped[attr.Name], attr.Value)
	}

	v := NewValues(id)
	for _, storeName := range order {
		a, ok := d.StoredAttribute(storeName)
		if !ok {
			continue
		}
		value, err := e.parseField(a, grouped[storeName])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Type, a.Name, err)
		}
		v.Set(a.Name, value)
	}
	return v, nil
}

func (e *Engine) parseField(a *AttributeDescriptor, stored []string) (any, error) {
	if a.List {
		out := make([]any, len(stored))
		for i, s := range stored {
			x, err := e.parse(a, s)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	}
	if a.Span.Spanned() {
		s, err := e.codec.Join(stored, a.Span)
		if err != nil {
			return nil, spanError(err)
		}
		return e.parse(a, s)
	}
	if len(stored) != 1 {
		return nil, fmt.Errorf("%w: scalar attribute %s holds %d values", ErrData, a.StoreName, len(stored))
	}
	return e.parse(a, stored[0])
}

// Delete removes fields of the given entities, or the entities themselves when no fields are
// given. A single id is one delete; more are sent in batches of MaxBatchSize.
func (e *Engine) Delete(ctx context.Context, d *ItemDescriptor, ids []any, fields ...string) error {
	var attrs []backend.Attribute
	for _, field := range fields {
		a, ok := d.Attribute(field)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, d.Type, field)
		}
		attrs = append(attrs, backend.Attribute{Name: a.StoreName})
	}
	items := make([]backend.Item, 0, len(ids))
	for _, id := range ids {
		name, err := e.itemName(d, id)
		if err != nil {
			return err
		}
		items = append(items, backend.Item{Name: name, Attributes: attrs})
	}
	return e.remove(ctx, d, items)
}

// Select fetches pages until none remain or MaxPages is reached. Cancellation is checked
// before every page, including the first; a page already fetched is always returned.
func (e *Engine) Select(ctx context.Context, cmd *SelectCommand) (*SelectResult, error) {
	sel, err := cmd.parse()
	if err != nil {
		return nil, err
	}
	d := cmd.Descriptor
	if d == nil || sel.Projection == backend.ProjectCount {
		d = e.registry.AdHoc(sel.Container)
	}

	res := &SelectResult{}
	token := cmd.NextToken
	for pages := 0; ; pages++ {
		if cmd.MaxPages > 0 && pages >= cmd.MaxPages {
			res.NextToken = token
			break
		}
		if cmd.Cancelled() {
			res.NextToken = token
			res.Cancelled = true
			break
		}
		page, err := e.client.Query(ctx, sel.Container, cmd.Expression, token, cmd.Consistent)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			v, err := e.decodeRow(d, item)
			if err != nil {
				return nil, err
			}
			res.Items = append(res.Items, v)
		}
		token = page.NextToken
		if token == "" {
			break
		}
	}
	e.config.Logger.Debug("select", "container", sel.Container, "items", len(res.Items), "cancelled", res.Cancelled)
	return res, nil
}

func (e *Engine) decodeRow(d *ItemDescriptor, item backend.Item) (*Values, error) {
	id, err := e.parse(d.Identity, item.Name)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", d.Type, d.Identity.Name, err)
	}
	return e.decode(d, id, item.Attributes)
}

// SelectScalar sums the partial counts of a count(*) select. For other selects it returns the
// first field of the first row, or the row's identity when the row has no fields. An empty
// result is nil.
func (e *Engine) SelectScalar(ctx context.Context, cmd *SelectCommand) (any, error) {
	sel, err := cmd.parse()
	if err != nil {
		return nil, err
	}
	res, err := e.Select(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if sel.Projection == backend.ProjectCount {
		var total int64
		for _, v := range res.Items {
			count, _ := v.Get(backend.CountAttribute)
			n, err := countValue(count)
			if err != nil {
				return nil, err
			}
			total += n
		}
		return total, nil
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	first := res.Items[0]
	fields := first.Fields()
	if sel.Projection == backend.ProjectAttributes {
		for _, name := range sel.Attributes {
			if a, ok := e.storedAttribute(cmd, name); ok && first.Has(a) {
				fields = []string{a}
				break
			}
		}
	}
	if len(fields) == 0 {
		return first.ID(), nil
	}
	value, _ := first.Get(fields[0])
	return value, nil
}

// storedAttribute returns the field name a stored attribute of the command's descriptor maps to.
func (e *Engine) storedAttribute(cmd *SelectCommand, storeName string) (string, bool) {
	if cmd.Descriptor == nil {
		return storeName, true
	}
	a, ok := cmd.Descriptor.StoredAttribute(storeName)
	if !ok {
		return "", false
	}
	return a.Name, true
}

func countValue(v any) (int64, error) {
	var s string
	switch x := v.(type) {
	case []any:
		if len(x) != 1 {
			return 0, fmt.Errorf("%w: count holds %d values", ErrData, len(x))
		}
		s, _ = x[0].(string)
	case string:
		s = x
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: count %q: %v", ErrData, s, err)
	}
	return n, nil
}

var _ Operations = (*Engine)(nil)
