package store

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Values is a sparse snapshot of an entity's fields: an identity and a map from field name to
// canonical value. A nil value is an explicit null. A complete container represents every
// mapped field. Values is safe for concurrent use.
type Values struct {
	mu       sync.RWMutex
	id       any
	fields   map[string]any
	complete bool
}

// NewValues creates an empty, partial container.
func NewValues(id any) *Values {
	return &Values{id: canonical(id), fields: make(map[string]any)}
}

// ID returns the identity.
func (v *Values) ID() any {
	return v.id
}

// Get returns a field value and whether the field is present.
func (v *Values) Get(field string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	x, ok := v.fields[field]
	return x, ok
}

// Has reports whether every field is present.
func (v *Values) Has(fields ...string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, f := range fields {
		if _, ok := v.fields[f]; !ok {
			return false
		}
	}
	return true
}

// Set overwrites a field.
func (v *Values) Set(field string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fields[field] = canonical(value)
}

// Add appends a value to a list field, creating the list on first use. A scalar already in
// the field becomes the first element.
func (v *Values) Add(field string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var list []any
	switch cur := v.fields[field].(type) {
	case nil:
	case []any:
		list = cur
	default:
		list = []any{cur}
	}
	v.fields[field] = append(list, canonical(value))
}

// Remove drops a field.
func (v *Values) Remove(field string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.fields, field)
}

// Fields returns the present field names in sorted order.
func (v *Values) Fields() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sortedKeys(v.fields)
}

// Len returns the number of present fields.
func (v *Values) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.fields)
}

// Complete reports whether every mapped field is represented.
func (v *Values) Complete() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.complete
}

// SetComplete sets the complete flag.
func (v *Values) SetComplete(complete bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.complete = complete
}

// Merge copies other's fields into v in place. v becomes complete if other is.
func (v *Values) Merge(other *Values) {
	if other == nil || other == v {
		return
	}
	other.mu.RLock()
	fields := maps.Clone(other.fields)
	complete := other.complete
	other.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	maps.Copy(v.fields, fields)
	v.complete = v.complete || complete
}

// Clone returns an independent copy. List values are copied.
func (v *Values) Clone() *Values {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c := &Values{id: v.id, fields: make(map[string]any, len(v.fields)), complete: v.complete}
	for k, x := range v.fields {
		if list, ok := x.([]any); ok {
			x = slices.Clone(list)
		}
		c.fields[k] = x
	}
	return c
}

// String renders the container for debugging.
func (v *Values) String() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var b strings.Builder
	fmt.Fprintf(&b, "%v{", v.id)
	for i, k := range sortedKeys(v.fields) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, v.fields[k])
	}
	b.WriteString("}")
	return b.String()
}

// sortedKeys returns m's keys in sorted order (nil when m is empty).
func sortedKeys(m map[string]any) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
