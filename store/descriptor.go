package store

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jacentio/attrmap/internal/span"
)

// Kind is the scalar kind of a field, or of its elements for list fields.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindTime
	KindBytes

	// KindText is a type that implements encoding.TextMarshaler and whose pointer implements
	// encoding.TextUnmarshaler.
	KindText

	// KindOther is any other type. It needs a field formatter.
	KindOther
)

var kindNames = [...]string{"string", "int", "uint", "float", "bool", "time", "bytes", "text", "other"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// VersionRole is how a field takes part in optimistic versioning.
type VersionRole int

const (
	VersionNone VersionRole = iota

	// VersionIncrement advances the field on every put.
	VersionIncrement

	// VersionConditional advances the field and makes the put conditional on the previous value.
	VersionConditional
)

// SpanPolicy describes how values of a field are split across stored values.
type SpanPolicy = span.Policy

const (
	SpanNone     = span.None
	SpanEnabled  = span.Enabled
	SpanCompress = span.Compress
	SpanEncrypt  = span.Encrypt
)

// Padding renders integers zero-padded to a fixed number of digits after adding Offset, so that
// stored values sort lexically in numeric order.
type Padding struct {
	Digits int
	Offset int64
}

// Op identifies the operation a validation hook runs for.
type Op int

const (
	OpPut Op = iota
	OpGet
	OpDelete
	OpSelect
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	case OpDelete:
		return "delete"
	case OpSelect:
		return "select"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// AttributeDescriptor describes how one field maps to a stored attribute.
type AttributeDescriptor struct {
	// Name is the field name used in Values.
	Name string

	// StoreName is the stored attribute name.
	StoreName string

	Kind Kind

	// Bits is the width of integer and float kinds.
	Bits int

	// List marks a list-valued field. Kind is the element kind.
	List bool

	// Nullable marks a pointer field.
	Nullable bool

	Span      SpanPolicy
	Indexed   bool
	Version   VersionRole
	Padding   *Padding
	Formatter Formatter

	get       func(entity any) any
	set       func(entity any, v any) error
	parseText func(s string) (any, error)
}

// Get returns the canonical value of the field in entity.
func (a *AttributeDescriptor) Get(entity any) any {
	if a.get == nil {
		return nil
	}
	return a.get(entity)
}

// Set stores a canonical value into the field of entity.
func (a *AttributeDescriptor) Set(entity any, v any) error {
	if a.set == nil {
		return fmt.Errorf("%w: field %s has no accessor", ErrConfiguration, a.Name)
	}
	return a.set(entity, v)
}

// ItemDescriptor is the resolved, immutable mapping of one entity type.
type ItemDescriptor struct {
	// Type is the Go type name, used in messages.
	Type string

	Container string
	Identity  *AttributeDescriptor

	// Attributes are the value fields, sorted by store name.
	Attributes []*AttributeDescriptor

	// Dynamic descriptors accept any stored attribute as a list of strings.
	Dynamic bool

	byName   map[string]*AttributeDescriptor
	byStore  map[string]*AttributeDescriptor
	version  *AttributeDescriptor
	validate func(op Op, v *Values) error
}

func (d *ItemDescriptor) index() {
	d.byName = make(map[string]*AttributeDescriptor, len(d.Attributes))
	d.byStore = make(map[string]*AttributeDescriptor, len(d.Attributes))
	for _, a := range d.Attributes {
		d.byName[a.Name] = a
		d.byStore[a.StoreName] = a
		if a.Version != VersionNone {
			d.version = a
		}
	}
}

// Attribute returns the descriptor of a field by field name.
func (d *ItemDescriptor) Attribute(field string) (*AttributeDescriptor, bool) {
	if a, ok := d.byName[field]; ok {
		return a, true
	}
	if d.Dynamic {
		return dynamicAttribute(field), true
	}
	return nil, false
}

// StoredAttribute returns the descriptor of a field by stored attribute name.
func (d *ItemDescriptor) StoredAttribute(name string) (*AttributeDescriptor, bool) {
	if a, ok := d.byStore[name]; ok {
		return a, true
	}
	if d.Dynamic {
		return dynamicAttribute(name), true
	}
	return nil, false
}

// Version returns the versioned field, or nil.
func (d *ItemDescriptor) Version() *AttributeDescriptor {
	return d.version
}

// FieldNames returns the names of every mapped value field in store name order.
func (d *ItemDescriptor) FieldNames() []string {
	names := make([]string, len(d.Attributes))
	for i, a := range d.Attributes {
		names[i] = a.Name
	}
	return names
}

// Validate runs the entity's validation hook, if any.
func (d *ItemDescriptor) Validate(op Op, v *Values) error {
	if d.validate == nil || v == nil {
		return nil
	}
	return d.validate(op, v)
}

// ToValues captures every mapped field of entity, including nulls, in a complete container.
func (d *ItemDescriptor) ToValues(entity any) (*Values, error) {
	id := d.Identity.Get(entity)
	if err := checkIdentity(d, id); err != nil {
		return nil, err
	}
	v := NewValues(id)
	for _, a := range d.Attributes {
		v.Set(a.Name, a.Get(entity))
	}
	v.SetComplete(true)
	return v, nil
}

// FromValues copies the fields present in v into entity. Keys that are not mapped are ignored.
func (d *ItemDescriptor) FromValues(v *Values, entity any) error {
	if err := d.Identity.Set(entity, v.ID()); err != nil {
		return fmt.Errorf("%s.%s: %w", d.Type, d.Identity.Name, err)
	}
	for _, field := range v.Fields() {
		a, ok := d.byName[field]
		if !ok {
			continue
		}
		value, _ := v.Get(field)
		if err := a.Set(entity, value); err != nil {
			return fmt.Errorf("%s.%s: %w", d.Type, a.Name, err)
		}
	}
	return nil
}

func checkIdentity(d *ItemDescriptor, id any) error {
	if id == nil {
		return fmt.Errorf("%w: %s has a null identity", ErrData, d.Type)
	}
	if s, ok := id.(string); ok && strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s has a blank identity", ErrData, d.Type)
	}
	return nil
}

func dynamicAttribute(name string) *AttributeDescriptor {
	return &AttributeDescriptor{Name: name, StoreName: name, Kind: KindString, List: true}
}

// newDynamicDescriptor describes items of container with no fixed schema. Identity and every
// attribute are strings; attributes are lists since a stored name may hold several values.
func newDynamicDescriptor(container string) *ItemDescriptor {
	d := &ItemDescriptor{
		Type:      container,
		Container: container,
		Identity:  &AttributeDescriptor{Name: "itemName()", StoreName: "itemName()", Kind: KindString},
		Dynamic:   true,
	}
	d.index()
	return d
}

func sortAttributes(attrs []*AttributeDescriptor) {
	slices.SortFunc(attrs, func(a, b *AttributeDescriptor) int {
		return strings.Compare(a.StoreName, b.StoreName)
	})
}
