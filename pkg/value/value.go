// Package value implements the runtime values produced by evaluating
// property expressions.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind enumerates the runtime value kinds.
type Kind string

const (
	KindNull    Kind = "null"
	KindBool    Kind = "bool"
	KindNumber  Kind = "number"
	KindString  Kind = "string"
	KindList    Kind = "list"
	KindMap     Kind = "map"
	KindUnknown Kind = "unknown"
)

// Value is an immutable runtime value.
type Value interface {
	Kind() Kind
	String() string
	value()
}

// Null is the absent value.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Number is a numeric value.
type Number float64

// String is a string value.
type String string

// List is an ordered sequence of values.
type List []Value

// Map is a string-keyed mapping. Iteration via Keys is sorted.
type Map map[string]Value

// Unknown marks a provider-computed value that is only known after apply.
type Unknown struct{}

func (Null) Kind() Kind    { return KindNull }
func (Bool) Kind() Kind    { return KindBool }
func (Number) Kind() Kind  { return KindNumber }
func (String) Kind() Kind  { return KindString }
func (List) Kind() Kind    { return KindList }
func (Map) Kind() Kind     { return KindMap }
func (Unknown) Kind() Kind { return KindUnknown }

func (Null) value()    {}
func (Bool) value()    {}
func (Number) value()  {}
func (String) value()  {}
func (List) value()    {}
func (Map) value()     {}
func (Unknown) value() {}

func (Null) String() string { return "null" }

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

func (n Number) String() string { return formatNumber(float64(n)) }

func (s String) String() string { return string(s) }

func (l List) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = Repr(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (m Map) String() string {
	keys := m.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " = " + Repr(m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (Unknown) String() string { return "(known after apply)" }

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Repr renders v for display, quoting strings.
func Repr(v Value) string {
	if s, ok := v.(String); ok {
		return strconv.Quote(string(s))
	}
	if v == nil {
		return "null"
	}
	return v.String()
}

// Int reports whether n is integral and returns it as an int.
func (n Number) Int() (int, bool) {
	f := float64(n)
	if math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	if math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int(f), true
}

// Truthy reports the boolean interpretation of v. Only bools are truthy.
func Truthy(v Value) (bool, error) {
	b, ok := v.(Bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %s", KindOf(v))
	}
	return bool(b), nil
}

// KindOf returns v's kind, treating a nil interface as null.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// IsNull reports whether v is null or nil.
func IsNull(v Value) bool {
	return KindOf(v) == KindNull
}

// Equal reports structural equality.
func Equal(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch av := a.(type) {
	case nil, Null, Unknown:
		return true
	case Bool:
		return av == b.(Bool)
	case Number:
		return av == b.(Number)
	case String:
		return av == b.(String)
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ContainsUnknown reports whether v or anything nested in it is unknown.
func ContainsUnknown(v Value) bool {
	switch tv := v.(type) {
	case Unknown:
		return true
	case List:
		for _, e := range tv {
			if ContainsUnknown(e) {
				return true
			}
		}
	case Map:
		for _, e := range tv {
			if ContainsUnknown(e) {
				return true
			}
		}
	}
	return false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
