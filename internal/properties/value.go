// Package properties evaluates property filters against a person/group
// property map, matching the closed operator set of the flag evaluator.
package properties

import "encoding/json"

// Value is a dynamic JSON sum type: Null, Bool, Number, String, Array, Object.
// Property maps are decoded into Value so the matcher's coercion rules stay
// explicit instead of relying on interface{} type switches scattered around
// the codebase.
type Value struct {
	raw any
}

// ValueOf wraps an arbitrary decoded JSON value (string, float64, bool, nil,
// []any, map[string]any) as a Value.
func ValueOf(v any) Value { return Value{raw: v} }

// Raw returns the underlying decoded value.
func (v Value) Raw() any { return v.raw }

// IsNull reports whether the value is JSON null or was never set.
func (v Value) IsNull() bool { return v.raw == nil }

// String returns the value coerced to a string and whether coercion applied
// cleanly (i.e. the value was a string, number or bool).
func (v Value) String() (string, bool) {
	switch t := v.raw.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return formatFloat(t), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

// Float64 returns the value coerced to float64 and whether coercion applied.
func (v Value) Float64() (float64, bool) {
	switch t := v.raw.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseFloat(t)
	}
	return 0, false
}

// Slice returns the value as a []Value if it is a JSON array.
func (v Value) Slice() ([]Value, bool) {
	arr, ok := v.raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(arr))
	for i, item := range arr {
		out[i] = Value{raw: item}
	}
	return out, true
}
