package store

import (
	"fmt"
	"time"

	"github.com/jacentio/attrmap/backend"
)

// isNewVersion reports whether a version value marks an entity that has never been stored.
func isNewVersion(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case int64:
		return x == 0
	case uint64:
		return x == 0
	case time.Time:
		return x.IsZero()
	}
	return false
}

// nextVersion returns the value a version field takes on the next put. Integers count up from
// one; times take the current time, moved forward if the clock has not passed the previous value.
func nextVersion(a *AttributeDescriptor, prev any, now time.Time) (any, error) {
	switch a.Kind {
	case KindInt:
		n, _ := prev.(int64)
		return toInt(n+1, a.Bits)
	case KindUint:
		n, _ := prev.(uint64)
		return toUint(n+1, a.Bits)
	case KindTime:
		now = now.UTC()
		if t, ok := prev.(time.Time); ok && !now.After(t) {
			now = t.Add(time.Nanosecond)
		}
		return now, nil
	}
	return nil, fmt.Errorf("%w: version on a %s field", ErrConfiguration, a.Kind)
}

// versionCondition builds the precondition of a conditional put: the stored version must equal
// prev, or be absent for a new entity.
func (e *Engine) versionCondition(a *AttributeDescriptor, prev any) (*backend.Condition, error) {
	if isNewVersion(prev) {
		return &backend.Condition{Name: a.StoreName}, nil
	}
	s, err := e.format(a, prev)
	if err != nil {
		return nil, err
	}
	return &backend.Condition{Name: a.StoreName, Value: s, Exists: true}, nil
}
