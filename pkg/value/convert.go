package value

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// UnknownMarker is the plain-data rendering of an Unknown value.
const UnknownMarker = "(known after apply)"

// FromGo converts decoded YAML/JSON data into a runtime value.
func FromGo(in interface{}) (Value, error) {
	switch tv := in.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return tv, nil
	case bool:
		return Bool(tv), nil
	case string:
		return String(tv), nil
	case int:
		return Number(tv), nil
	case int32:
		return Number(tv), nil
	case int64:
		return Number(tv), nil
	case uint64:
		return Number(tv), nil
	case float32:
		return Number(tv), nil
	case float64:
		return Number(tv), nil
	case json.Number:
		f, err := tv.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", tv, err)
		}
		return Number(f), nil
	case []interface{}:
		out := make(List, len(tv))
		for i, e := range tv {
			conv, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]interface{}:
		out := make(Map, len(tv))
		for k, e := range tv {
			conv, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(Map, len(tv))
		for k, e := range tv {
			conv, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = conv
		}
		return out, nil
	}

	rv := reflect.ValueOf(in)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make(List, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			conv, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(Map, rv.Len())
		for _, k := range rv.MapKeys() {
			conv, err := FromGo(rv.MapIndex(k).Interface())
			if err != nil {
				return nil, err
			}
			out[k.String()] = conv
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported input type %T", in)
}

// ToGo converts v into plain Go data suitable for JSON, YAML, Rego and CUE.
// Unknown values become UnknownMarker.
func ToGo(v Value) interface{} {
	switch tv := v.(type) {
	case nil, Null:
		return nil
	case Unknown:
		return UnknownMarker
	case Bool:
		return bool(tv)
	case Number:
		if i, ok := tv.Int(); ok {
			return i
		}
		return float64(tv)
	case String:
		return string(tv)
	case List:
		out := make([]interface{}, len(tv))
		for i, e := range tv {
			out[i] = ToGo(e)
		}
		return out
	case Map:
		out := make(map[string]interface{}, len(tv))
		for k, e := range tv {
			out[k] = ToGo(e)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v through ToGo.
func MarshalJSON(v Value) ([]byte, error) {
	return json.Marshal(ToGo(v))
}

// UnmarshalJSON decodes data produced by MarshalJSON.
func UnmarshalJSON(data []byte) (Value, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// SortedKeys returns the keys of a plain map in sorted order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
