package model

import (
	"encoding/json"
	"reflect"
)

// Document is an uninterpreted structured value: settings, validations,
// workflow definitions and the engine's working state all travel as one.
type Document = map[string]any

// CloneDocument returns a deep copy of d through a JSON round trip. Values
// that are not JSON-representable are dropped.
func CloneDocument(d Document) Document {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// EqualValues reports whether two decoded JSON values are equal. Numbers
// compare by value regardless of their Go numeric type.
func EqualValues(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}
