package addr

import (
	"strconv"
	"strings"
)

// SegmentKind identifies how a segment was produced and how it renders.
type SegmentKind int

const (
	// SegmentIndex is an integer array index, rendered as [0].
	SegmentIndex SegmentKind = iota

	// SegmentKey is a string map key, rendered as ["key"].
	SegmentKey

	// SegmentLiteral is any other canonical key text (non-integral numbers,
	// booleans, objects, lists), rendered verbatim inside brackets.
	SegmentLiteral
)

// String returns the segment kind name.
func (k SegmentKind) String() string {
	switch k {
	case SegmentIndex:
		return "index"
	case SegmentKey:
		return "key"
	case SegmentLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Segment is one loop- or count-generated accessor on an entity name.
type Segment struct {
	Kind    SegmentKind
	Index   int
	Key     string
	Literal string
}

// Index returns an array index segment.
func Index(i int) Segment {
	return Segment{Kind: SegmentIndex, Index: i}
}

// Key returns a map key segment.
func Key(k string) Segment {
	return Segment{Kind: SegmentKey, Key: k}
}

// Literal returns a segment carrying pre-rendered canonical key text.
func Literal(text string) Segment {
	return Segment{Kind: SegmentLiteral, Literal: text}
}

// String renders the segment including its brackets.
func (s Segment) String() string {
	switch s.Kind {
	case SegmentIndex:
		return "[" + strconv.Itoa(s.Index) + "]"
	case SegmentKey:
		return "[" + strconv.Quote(s.Key) + "]"
	default:
		return "[" + s.Literal + "]"
	}
}

// ResourcePath is the structural address of an entity.
type ResourcePath struct {
	// File is the originating file tag, empty for the root program.
	File string

	// Parent is the owning component instance, nil at top level.
	Parent *ResourcePath

	Type     string
	Name     string
	Segments []Segment
}

// New returns a top-level path for the given type and name.
func New(typeName, name string) ResourcePath {
	return ResourcePath{Type: typeName, Name: name}
}

// String renders the full path: file tag, parent chain, type, name and segments.
func (p ResourcePath) String() string {
	var sb strings.Builder
	if p.File != "" {
		sb.WriteString(p.File)
		sb.WriteByte(':')
	}
	p.writeBody(&sb)
	return sb.String()
}

func (p ResourcePath) writeBody(sb *strings.Builder) {
	if p.Parent != nil {
		p.Parent.writeBody(sb)
		sb.WriteByte('.')
	}
	if p.Type != "" {
		sb.WriteString(p.Type)
		sb.WriteByte('.')
	}
	sb.WriteString(p.Name)
	for _, seg := range p.Segments {
		sb.WriteString(seg.String())
	}
}

// SegmentName renders the registration key: the parent's key, the
// instance name and the segments. Types and the file tag are omitted.
func (p ResourcePath) SegmentName() string {
	var sb strings.Builder
	p.writeKey(&sb, true)
	return sb.String()
}

// BaseName renders the registration key without this path's own segments.
// Parent segments are kept.
func (p ResourcePath) BaseName() string {
	var sb strings.Builder
	p.writeKey(&sb, false)
	return sb.String()
}

func (p ResourcePath) writeKey(sb *strings.Builder, withSegments bool) {
	if p.Parent != nil {
		p.Parent.writeKey(sb, true)
		sb.WriteByte('.')
	}
	sb.WriteString(p.Name)
	if withSegments {
		for _, seg := range p.Segments {
			sb.WriteString(seg.String())
		}
	}
}

// Indexed reports whether the path carries any segments of its own.
func (p ResourcePath) Indexed() bool {
	return len(p.Segments) > 0
}

// Append returns a copy of p with seg appended.
func (p ResourcePath) Append(seg Segment) ResourcePath {
	segs := make([]Segment, len(p.Segments), len(p.Segments)+1)
	copy(segs, p.Segments)
	p.Segments = append(segs, seg)
	return p
}

// AppendIndex returns a copy of p with an array index segment appended.
func (p ResourcePath) AppendIndex(i int) ResourcePath {
	return p.Append(Index(i))
}

// AppendKey returns a copy of p with a map key segment appended.
func (p ResourcePath) AppendKey(k string) ResourcePath {
	return p.Append(Key(k))
}

// AppendComposite returns a copy of p with a canonical composite key appended.
func (p ResourcePath) AppendComposite(canonical string) ResourcePath {
	return p.Append(Literal(canonical))
}

// WithParent returns a copy of p nested under parent.
func (p ResourcePath) WithParent(parent ResourcePath) ResourcePath {
	p.Parent = &parent
	return p
}

// Equal reports structural equality.
func (p ResourcePath) Equal(other ResourcePath) bool {
	if p.File != other.File || p.Type != other.Type || p.Name != other.Name {
		return false
	}
	if len(p.Segments) != len(other.Segments) {
		return false
	}
	for i := range p.Segments {
		if p.Segments[i] != other.Segments[i] {
			return false
		}
	}
	if p.Parent == nil || other.Parent == nil {
		return p.Parent == other.Parent
	}
	return p.Parent.Equal(*other.Parent)
}
