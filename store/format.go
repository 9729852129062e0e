package store

import (
	"encoding"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Formatter converts scalar values to and from stored strings. List fields are formatted one
// element at a time.
type Formatter interface {
	Format(a *AttributeDescriptor, v any) (string, error)
	Parse(a *AttributeDescriptor, s string) (any, error)
}

// DefaultFormatter formats values by kind:
//   - integers in decimal, or zero-padded after adding an offset when the field is padded
//   - floats in the shortest representation that round-trips
//   - times in RFC 3339 with nanoseconds, in UTC
//   - bytes in standard base64
//   - text kinds with MarshalText and UnmarshalText
type DefaultFormatter struct{}

// Format renders a canonical value.
func (DefaultFormatter) Format(a *AttributeDescriptor, v any) (string, error) {
	switch a.Kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		if n, ok := v.(int64); ok {
			if a.Padding != nil {
				return pad(big.NewInt(n), a)
			}
			return strconv.FormatInt(n, 10), nil
		}
	case KindUint:
		if n, ok := v.(uint64); ok {
			if a.Padding != nil {
				return pad(new(big.Int).SetUint64(n), a)
			}
			return strconv.FormatUint(n, 10), nil
		}
	case KindFloat:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'g', -1, bitsOr64(a)), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b), nil
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	case KindBytes:
		if b, ok := v.([]byte); ok {
			return base64.StdEncoding.EncodeToString(b), nil
		}
	case KindText:
		if m, ok := v.(encoding.TextMarshaler); ok {
			text, err := m.MarshalText()
			if err != nil {
				return "", fmt.Errorf("%w: %s: %v", ErrData, a.Name, err)
			}
			return string(text), nil
		}
	case KindOther:
		return "", fmt.Errorf("%w: %s: no formatter for kind other", ErrConfiguration, a.Name)
	}
	return "", fmt.Errorf("%w: %s: cannot format %T as %s", ErrData, a.Name, v, a.Kind)
}

// Parse reads a stored string back into a canonical value.
func (DefaultFormatter) Parse(a *AttributeDescriptor, s string) (any, error) {
	var (
		v   any
		err error
	)
	switch a.Kind {
	case KindString:
		return s, nil
	case KindInt:
		if a.Padding != nil {
			return unpad(s, a)
		}
		v, err = strconv.ParseInt(s, 10, a.Bits)
	case KindUint:
		if a.Padding != nil {
			return unpad(s, a)
		}
		v, err = strconv.ParseUint(s, 10, a.Bits)
	case KindFloat:
		v, err = strconv.ParseFloat(s, bitsOr64(a))
	case KindBool:
		v, err = strconv.ParseBool(s)
	case KindTime:
		v, err = time.Parse(time.RFC3339Nano, s)
	case KindBytes:
		v, err = base64.StdEncoding.DecodeString(s)
	case KindText:
		if a.parseText == nil {
			return nil, fmt.Errorf("%w: %s: no text decoder", ErrConfiguration, a.Name)
		}
		return a.parseText(s)
	default:
		return nil, fmt.Errorf("%w: %s: no formatter for kind %s", ErrConfiguration, a.Name, a.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrData, a.Name, err)
	}
	return v, nil
}

func bitsOr64(a *AttributeDescriptor) int {
	if a.Bits == 32 {
		return 32
	}
	return 64
}

func pad(n *big.Int, a *AttributeDescriptor) (string, error) {
	n.Add(n, big.NewInt(a.Padding.Offset))
	if n.Sign() < 0 {
		return "", fmt.Errorf("%w: %s: value is below the padding offset %d", ErrData, a.Name, -a.Padding.Offset)
	}
	s := n.String()
	if len(s) > a.Padding.Digits {
		return "", fmt.Errorf("%w: %s: %s exceeds %d digits", ErrData, a.Name, s, a.Padding.Digits)
	}
	return strings.Repeat("0", a.Padding.Digits-len(s)) + s, nil
}

func unpad(s string, a *AttributeDescriptor) (any, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s: invalid padded number %q", ErrData, a.Name, s)
	}
	n.Sub(n, big.NewInt(a.Padding.Offset))
	if a.Kind == KindUint {
		if !n.IsUint64() {
			return nil, fmt.Errorf("%w: %s: %s out of range", ErrData, a.Name, n)
		}
		return toUint(n.Uint64(), a.Bits)
	}
	if !n.IsInt64() {
		return nil, fmt.Errorf("%w: %s: %s out of range", ErrData, a.Name, n)
	}
	return toInt(n.Int64(), a.Bits)
}
