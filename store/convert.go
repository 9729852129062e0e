package store

import (
	"encoding"
	"fmt"
	"math"
	"strconv"
	"time"
)

// kindOf reports the scalar kind of V, the integer width for integer kinds, and whether V is
// a pointer that represents a nullable scalar.
func kindOf[V any]() (kind Kind, bits int, nullable bool) {
	var zero V
	switch any(zero).(type) {
	case string:
		return KindString, 0, false
	case *string:
		return KindString, 0, true
	case bool:
		return KindBool, 0, false
	case *bool:
		return KindBool, 0, true
	case int:
		return KindInt, strconv.IntSize, false
	case *int:
		return KindInt, strconv.IntSize, true
	case int8:
		return KindInt, 8, false
	case *int8:
		return KindInt, 8, true
	case int16:
		return KindInt, 16, false
	case *int16:
		return KindInt, 16, true
	case int32:
		return KindInt, 32, false
	case *int32:
		return KindInt, 32, true
	case int64:
		return KindInt, 64, false
	case *int64:
		return KindInt, 64, true
	case uint:
		return KindUint, strconv.IntSize, false
	case *uint:
		return KindUint, strconv.IntSize, true
	case uint8:
		return KindUint, 8, false
	case *uint8:
		return KindUint, 8, true
	case uint16:
		return KindUint, 16, false
	case *uint16:
		return KindUint, 16, true
	case uint32:
		return KindUint, 32, false
	case *uint32:
		return KindUint, 32, true
	case uint64:
		return KindUint, 64, false
	case *uint64:
		return KindUint, 64, true
	case float32:
		return KindFloat, 32, false
	case *float32:
		return KindFloat, 32, true
	case float64:
		return KindFloat, 64, false
	case *float64:
		return KindFloat, 64, true
	case time.Time:
		return KindTime, 0, false
	case *time.Time:
		return KindTime, 0, true
	case []byte:
		return KindBytes, 0, false
	}
	_, marshals := any(zero).(encoding.TextMarshaler)
	_, unmarshals := any(&zero).(encoding.TextUnmarshaler)
	if marshals && unmarshals {
		return KindText, 0, false
	}
	return KindOther, 0, false
}

// canonical normalizes a field value: integers widen to int64 or uint64, floats to float64,
// nil pointers to nil and slices to []any.
func canonical(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case float32:
		return float64(x)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case *int:
		if x == nil {
			return nil
		}
		return int64(*x)
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case *int8:
		return deref(x)
	case *int16:
		return deref(x)
	case *int32:
		return deref(x)
	case *uint:
		return deref(x)
	case *uint8:
		return deref(x)
	case *uint16:
		return deref(x)
	case *uint32:
		return deref(x)
	case *uint64:
		return deref(x)
	case *float32:
		return deref(x)
	case []any:
		return canonicalSlice(x)
	case []string:
		return canonicalSlice(x)
	case []int:
		return canonicalSlice(x)
	case []int64:
		return canonicalSlice(x)
	case []uint64:
		return canonicalSlice(x)
	case []float64:
		return canonicalSlice(x)
	case []bool:
		return canonicalSlice(x)
	case []time.Time:
		return canonicalSlice(x)
	}
	return v
}

// deref canonicalizes the value behind a nullable scalar.
func deref[E any](p *E) any {
	if p == nil {
		return nil
	}
	return canonical(*p)
}

func canonicalSlice[E any](s []E) any {
	if len(s) == 0 {
		return nil
	}
	out := make([]any, len(s))
	for i, e := range s {
		out[i] = canonical(e)
	}
	return out
}

func mismatch(v, dst any) error {
	return fmt.Errorf("%w: cannot assign %T to %T", ErrData, v, dst)
}

// assign stores a canonical value into dst, converting to dst's type. A nil value stores the
// zero value.
func assign[V any](dst *V, v any) error {
	if v == nil {
		var zero V
		*dst = zero
		return nil
	}
	switch d := any(dst).(type) {
	case *string:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, *d)
		}
		*d = s
	case **string:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, *d)
		}
		*d = &s
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(v, *d)
		}
		*d = b
	case **bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(v, *d)
		}
		*d = &b
	case *int:
		n, err := toInt(v, strconv.IntSize)
		if err != nil {
			return err
		}
		*d = int(n)
	case **int:
		n, err := toInt(v, strconv.IntSize)
		if err != nil {
			return err
		}
		i := int(n)
		*d = &i
	case *int8:
		n, err := toInt(v, 8)
		if err != nil {
			return err
		}
		*d = int8(n)
	case *int16:
		n, err := toInt(v, 16)
		if err != nil {
			return err
		}
		*d = int16(n)
	case *int32:
		n, err := toInt(v, 32)
		if err != nil {
			return err
		}
		*d = int32(n)
	case *int64:
		n, err := toInt(v, 64)
		if err != nil {
			return err
		}
		*d = n
	case **int64:
		n, err := toInt(v, 64)
		if err != nil {
			return err
		}
		*d = &n
	case *uint:
		n, err := toUint(v, strconv.IntSize)
		if err != nil {
			return err
		}
		*d = uint(n)
	case *uint8:
		n, err := toUint(v, 8)
		if err != nil {
			return err
		}
		*d = uint8(n)
	case *uint16:
		n, err := toUint(v, 16)
		if err != nil {
			return err
		}
		*d = uint16(n)
	case *uint32:
		n, err := toUint(v, 32)
		if err != nil {
			return err
		}
		*d = uint32(n)
	case *uint64:
		n, err := toUint(v, 64)
		if err != nil {
			return err
		}
		*d = n
	case *float32:
		f, ok := v.(float64)
		if !ok {
			return mismatch(v, *d)
		}
		*d = float32(f)
	case *float64:
		f, ok := v.(float64)
		if !ok {
			return mismatch(v, *d)
		}
		*d = f
	case **float64:
		f, ok := v.(float64)
		if !ok {
			return mismatch(v, *d)
		}
		*d = &f
	case *time.Time:
		t, ok := v.(time.Time)
		if !ok {
			return mismatch(v, *d)
		}
		*d = t
	case **time.Time:
		t, ok := v.(time.Time)
		if !ok {
			return mismatch(v, *d)
		}
		*d = &t
	case *[]byte:
		b, ok := v.([]byte)
		if !ok {
			return mismatch(v, *d)
		}
		*d = b
	case **int8:
		return assignPtr(d, v)
	case **int16:
		return assignPtr(d, v)
	case **int32:
		return assignPtr(d, v)
	case **uint:
		return assignPtr(d, v)
	case **uint8:
		return assignPtr(d, v)
	case **uint16:
		return assignPtr(d, v)
	case **uint32:
		return assignPtr(d, v)
	case **uint64:
		return assignPtr(d, v)
	case **float32:
		return assignPtr(d, v)
	default:
		x, ok := v.(V)
		if !ok {
			return mismatch(v, *dst)
		}
		*dst = x
	}
	return nil
}

// assignPtr stores a non-nil value behind a fresh pointer.
func assignPtr[E any](dst **E, v any) error {
	var e E
	if err := assign(&e, v); err != nil {
		return err
	}
	*dst = &e
	return nil
}

func toInt(v any, bits int) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int%d", ErrData, x, bits)
		}
		n = int64(x)
	default:
		return 0, fmt.Errorf("%w: cannot assign %T to int%d", ErrData, v, bits)
	}
	if bits < 64 {
		lim := int64(1) << (bits - 1)
		if n < -lim || n >= lim {
			return 0, fmt.Errorf("%w: %d overflows int%d", ErrData, n, bits)
		}
	}
	return n, nil
}

func toUint(v any, bits int) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint64:
		n = x
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("%w: %d is negative for uint%d", ErrData, x, bits)
		}
		n = uint64(x)
	default:
		return 0, fmt.Errorf("%w: cannot assign %T to uint%d", ErrData, v, bits)
	}
	if bits < 64 && n >= uint64(1)<<bits {
		return 0, fmt.Errorf("%w: %d overflows uint%d", ErrData, n, bits)
	}
	return n, nil
}
