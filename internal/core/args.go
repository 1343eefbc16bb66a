package core

import (
	"fmt"
)

// Args are the resolved inputs handed to a ComputeFunc, in declaration order.
type Args struct {
	names  []string
	values []any
	index  map[string]int
}

// NewArgs pairs names with values. Both slices must have the same length.
func NewArgs(names []string, values []any) Args {
	a := Args{
		names:  append([]string(nil), names...),
		values: append([]any(nil), values...),
		index:  make(map[string]int, len(names)),
	}
	for i, n := range a.names {
		a.index[n] = i
	}
	return a
}

// Len returns the number of inputs.
func (a Args) Len() int { return len(a.names) }

// Names returns the binding names in declaration order.
func (a Args) Names() []string { return append([]string(nil), a.names...) }

// At returns the i-th value.
func (a Args) At(i int) any { return a.values[i] }

// Value looks up a value by binding name.
func (a Args) Value(name string) (any, bool) {
	i, ok := a.index[name]
	if !ok {
		return nil, false
	}
	return a.values[i], true
}

// Float returns the named input as a float64.
func (a Args) Float(name string) (float64, error) {
	v, ok := a.Value(name)
	if !ok {
		return 0, fmt.Errorf("missing input %q", name)
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("input %q is %T, not a number", name, v)
	}
	return f, nil
}

// FloatOr returns the named input as a float64, or def when it is absent.
func (a Args) FloatOr(name string, def float64) (float64, error) {
	if _, ok := a.Value(name); !ok {
		return def, nil
	}
	return a.Float(name)
}

// Floats returns the named input as a list of float64.
func (a Args) Floats(name string) ([]float64, error) {
	v, ok := a.Value(name)
	if !ok {
		return nil, fmt.Errorf("missing input %q", name)
	}
	out, err := ToFloats(v)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", name, err)
	}
	return out, nil
}

// ToFloat converts the numeric kinds a computation may see.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ToFloats converts a list value (or a single number) into float64s.
func ToFloats(v any) ([]float64, error) {
	switch xs := v.(type) {
	case []float64:
		return append([]float64(nil), xs...), nil
	case []any:
		out := make([]float64, 0, len(xs))
		for i, x := range xs {
			f, ok := ToFloat(x)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not a number", i, x)
			}
			out = append(out, f)
		}
		return out, nil
	default:
		if f, ok := ToFloat(v); ok {
			return []float64{f}, nil
		}
		return nil, fmt.Errorf("%T is not a list of numbers", v)
	}
}
