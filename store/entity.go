package store

import (
	"encoding"
	"fmt"
	"math/big"
	"strings"
)

// Entity is implemented by pointers to mapped types.
//
//	func (t *Thing) Schema() store.Schema[Thing] {
//	    return store.Schema[Thing]{
//	        Fields: []store.FieldSpec[Thing]{
//	            store.Attr("ID", func(t *Thing) *string { return &t.ID }, store.Identity()),
//	            store.Attr("Name", func(t *Thing) *string { return &t.Name }),
//	        },
//	    }
//	}
type Entity[T any] interface {
	*T
	Schema() Schema[T]
}

// Schema declares how a type maps to a container.
type Schema[T any] struct {
	// Container is the container name. Default: the type's name.
	Container string

	Fields []FieldSpec[T]

	// Validate is called once per entity before put and delete, and after get and select.
	// Deletes pass an entity with only the identity set.
	Validate func(op Op, entity *T) error
}

// FieldSpec declares one field. Build it with Attr or List.
type FieldSpec[T any] struct {
	name     string
	kind     Kind
	bits     int
	list     bool
	nullable bool
	opts     fieldOptions
	get      func(*T) any
	set      func(*T, any) error
	text     func(string) (any, error)
}

type fieldOptions struct {
	identity  bool
	include   bool
	exclude   bool
	rename    string
	span      SpanPolicy
	spanSet   bool
	indexed   bool
	version   VersionRole
	formatter Formatter
	padding   *Padding
}

func (o fieldOptions) customized() bool {
	return o.rename != "" || o.spanSet || o.indexed || o.version != VersionNone || o.formatter != nil || o.padding != nil
}

// Option customizes a field.
type Option func(*fieldOptions)

// Identity marks the field that names the stored item. Exactly one field carries it.
func Identity() Option {
	return func(o *fieldOptions) { o.identity = true }
}

// Include maps the field. Once any field is included, only included or customized fields are mapped.
func Include() Option {
	return func(o *fieldOptions) { o.include = true }
}

// Exclude never maps the field.
func Exclude() Option {
	return func(o *fieldOptions) { o.exclude = true }
}

// Rename sets the stored attribute name.
func Rename(name string) Option {
	return func(o *fieldOptions) { o.rename = name }
}

// Spanned splits values that exceed the attribute length across several stored values.
func Spanned(p SpanPolicy) Option {
	return func(o *fieldOptions) {
		o.span = p.Normalize()
		o.spanSet = true
	}
}

// Indexed hands the field to the configured Indexer after every put.
func Indexed() Option {
	return func(o *fieldOptions) { o.indexed = true }
}

// Versioned makes the field an optimistic version.
func Versioned(role VersionRole) Option {
	return func(o *fieldOptions) { o.version = role }
}

// Format sets a formatter for this field only.
func Format(f Formatter) Option {
	return func(o *fieldOptions) { o.formatter = f }
}

// Padded zero-pads integers to digits after adding offset.
func Padded(digits int, offset int64) Option {
	return func(o *fieldOptions) { o.padding = &Padding{Digits: digits, Offset: offset} }
}

// Attr declares a scalar field. ptr returns the address of the field within an entity.
func Attr[T, V any](name string, ptr func(*T) *V, opts ...Option) FieldSpec[T] {
	kind, bits, nullable := kindOf[V]()
	f := FieldSpec[T]{
		name:     name,
		kind:     kind,
		bits:     bits,
		nullable: nullable,
		get:      func(e *T) any { return canonical(*ptr(e)) },
		set:      func(e *T, v any) error { return assign(ptr(e), v) },
	}
	if kind == KindText {
		f.text = parseText[V]
	}
	for _, opt := range opts {
		opt(&f.opts)
	}
	return f
}

// List declares a list-valued field. Each element is stored as a separate value.
func List[T, E any](name string, ptr func(*T) *[]E, opts ...Option) FieldSpec[T] {
	kind, bits, _ := kindOf[E]()
	f := FieldSpec[T]{
		name: name,
		kind: kind,
		bits: bits,
		list: true,
		get: func(e *T) any {
			s := *ptr(e)
			if len(s) == 0 {
				return nil
			}
			out := make([]any, len(s))
			for i, x := range s {
				out[i] = canonical(x)
			}
			return out
		},
		set: func(e *T, v any) error {
			if v == nil {
				*ptr(e) = nil
				return nil
			}
			elems, ok := v.([]any)
			if !ok {
				elems = []any{v}
			}
			out := make([]E, len(elems))
			for i, x := range elems {
				if err := assign(&out[i], x); err != nil {
					return err
				}
			}
			*ptr(e) = out
			return nil
		},
	}
	if kind == KindText {
		f.text = parseText[E]
	}
	for _, opt := range opts {
		opt(&f.opts)
	}
	return f
}

func parseText[V any](s string) (any, error) {
	var v V
	u, ok := any(&v).(encoding.TextUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a text unmarshaler", ErrConfiguration, v)
	}
	if err := u.UnmarshalText([]byte(s)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrData, err)
	}
	return v, nil
}

func typeName[T any]() string {
	name := fmt.Sprintf("%T", *new(T))
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// buildDescriptor applies inclusion rules, validates customizations and sorts attributes.
func buildDescriptor[T any](s Schema[T]) (*ItemDescriptor, error) {
	d := &ItemDescriptor{Type: typeName[T](), Container: s.Container}
	if d.Container == "" {
		d.Container = d.Type
	}

	includeMode := false
	for _, f := range s.Fields {
		if f.opts.include {
			includeMode = true
		}
	}

	for _, f := range s.Fields {
		a := f.descriptor()
		if f.opts.identity {
			if d.Identity != nil {
				return nil, fmt.Errorf("%w: %s has identity fields %s and %s", ErrConfiguration, d.Type, d.Identity.Name, f.name)
			}
			if f.list {
				return nil, fmt.Errorf("%w: %s.%s: identity cannot be a list", ErrConfiguration, d.Type, f.name)
			}
			if err := validateAttribute(a); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", d.Type, f.name, err)
			}
			d.Identity = a
			continue
		}
		if f.opts.exclude {
			if f.opts.customized() {
				return nil, fmt.Errorf("%w: %s.%s is both excluded and customized", ErrConfiguration, d.Type, f.name)
			}
			continue
		}
		switch {
		case f.opts.customized(), f.opts.include:
		case includeMode:
			continue
		case f.kind == KindOther:
			continue
		}
		if err := validateAttribute(a); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Type, f.name, err)
		}
		d.Attributes = append(d.Attributes, a)
	}
	if d.Identity == nil {
		return nil, fmt.Errorf("%w: %s has no identity field", ErrConfiguration, d.Type)
	}

	sortAttributes(d.Attributes)
	var version *AttributeDescriptor
	for i, a := range d.Attributes {
		if i > 0 && d.Attributes[i-1].StoreName == a.StoreName {
			return nil, fmt.Errorf("%w: %s maps %s and %s to attribute %q",
				ErrConfiguration, d.Type, d.Attributes[i-1].Name, a.Name, a.StoreName)
		}
		if a.Version != VersionNone {
			if version != nil {
				return nil, fmt.Errorf("%w: %s has version fields %s and %s", ErrConfiguration, d.Type, version.Name, a.Name)
			}
			version = a
		}
	}
	d.index()

	if s.Validate != nil {
		hook := s.Validate
		d.validate = func(op Op, v *Values) error {
			entity := new(T)
			if err := d.FromValues(v, entity); err != nil {
				return err
			}
			return hook(op, entity)
		}
	}
	return d, nil
}

func (f FieldSpec[T]) descriptor() *AttributeDescriptor {
	a := &AttributeDescriptor{
		Name:      f.name,
		StoreName: f.name,
		Kind:      f.kind,
		Bits:      f.bits,
		List:      f.list,
		Nullable:  f.nullable,
		Span:      f.opts.span,
		Indexed:   f.opts.indexed,
		Version:   f.opts.version,
		Padding:   f.opts.padding,
		Formatter: f.opts.formatter,
		parseText: f.text,
	}
	if f.opts.rename != "" {
		a.StoreName = f.opts.rename
	}
	get, set := f.get, f.set
	a.get = func(entity any) any { return get(entity.(*T)) }
	a.set = func(entity any, v any) error { return set(entity.(*T), v) }
	return a
}

// validateAttribute checks customizations against the field's kind.
func validateAttribute(a *AttributeDescriptor) error {
	if a.Span.Spanned() && a.List {
		return fmt.Errorf("%w: span policy on a list field", ErrConfiguration)
	}
	if a.Version != VersionNone {
		if a.List || (a.Kind != KindInt && a.Kind != KindUint && a.Kind != KindTime) {
			return fmt.Errorf("%w: version on a %s field", ErrConfiguration, describeKind(a))
		}
	}
	if a.Indexed && a.Kind != KindString {
		return fmt.Errorf("%w: index on a %s field", ErrConfiguration, describeKind(a))
	}
	if a.Padding != nil {
		if err := validatePadding(a); err != nil {
			return err
		}
	}
	if a.Kind == KindOther && a.Formatter == nil {
		return fmt.Errorf("%w: field of kind other needs a formatter", ErrConfiguration)
	}
	return nil
}

func describeKind(a *AttributeDescriptor) string {
	if a.List {
		return "list of " + a.Kind.String()
	}
	return a.Kind.String()
}

func validatePadding(a *AttributeDescriptor) error {
	p := a.Padding
	if a.Kind != KindInt && a.Kind != KindUint {
		return fmt.Errorf("%w: padding on a %s field", ErrConfiguration, describeKind(a))
	}
	if p.Offset < 0 {
		return fmt.Errorf("%w: negative padding offset %d", ErrConfiguration, p.Offset)
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(a.Bits))
	if a.Kind == KindInt {
		limit.Rsh(limit, 1)
	}
	largest := limit.Sub(limit, big.NewInt(1))
	largest.Add(largest, big.NewInt(p.Offset))
	if need := len(largest.String()); p.Digits < need {
		return fmt.Errorf("%w: %d padding digits cannot hold %s values up to %s, need %d",
			ErrConfiguration, p.Digits, describeKind(a), largest, need)
	}
	return nil
}
