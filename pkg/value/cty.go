package value

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// ToCty converts v into the equivalent cty value. Lists become tuples and
// maps become objects so that heterogeneous elements are preserved.
func ToCty(v Value) cty.Value {
	switch tv := v.(type) {
	case nil, Null:
		return cty.NullVal(cty.DynamicPseudoType)
	case Unknown:
		return cty.DynamicVal
	case Bool:
		return cty.BoolVal(bool(tv))
	case Number:
		return cty.NumberFloatVal(float64(tv))
	case String:
		return cty.StringVal(string(tv))
	case List:
		if len(tv) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, len(tv))
		for i, e := range tv {
			elems[i] = ToCty(e)
		}
		return cty.TupleVal(elems)
	case Map:
		if len(tv) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(tv))
		for k, e := range tv {
			attrs[k] = ToCty(e)
		}
		return cty.ObjectVal(attrs)
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}

// FromCty converts a cty value into a runtime value.
func FromCty(v cty.Value) (Value, error) {
	if !v.IsKnown() {
		return Unknown{}, nil
	}
	if v.IsNull() {
		return Null{}, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return Bool(v.True()), nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return Number(f), nil
	case ty == cty.String:
		return String(v.AsString()), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make(List, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			conv, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return out, nil
	case ty.IsMapType() || ty.IsObjectType():
		out := make(Map, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			conv, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
