package value

import (
	"strconv"
	"strings"
)

// Canonical renders v as order-independent, type-tagged text. Strings are
// always quoted, numbers use their shortest form, map keys are sorted and
// nesting is recursive, so equal values always render identically and
// values of different kinds never do.
func Canonical(v Value) string {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v Value) {
	switch tv := v.(type) {
	case nil, Null:
		sb.WriteString("null")
	case Unknown:
		sb.WriteString("unknown")
	case Bool:
		sb.WriteString(strconv.FormatBool(bool(tv)))
	case Number:
		sb.WriteString(formatNumber(float64(tv)))
	case String:
		sb.WriteString(strconv.Quote(string(tv)))
	case List:
		sb.WriteByte('[')
		for i, e := range tv {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	case Map:
		sb.WriteByte('{')
		for i, k := range tv.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeCanonical(sb, tv[k])
		}
		sb.WriteByte('}')
	}
}
