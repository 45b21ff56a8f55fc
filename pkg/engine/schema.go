package engine

import (
	"fmt"

	"github.com/cairnlang/cairn/pkg/value"
)

// PropertyType is the declared type of a schema property.
type PropertyType string

const (
	TypeAny    PropertyType = "any"
	TypeString PropertyType = "string"
	TypeNumber PropertyType = "number"
	TypeBool   PropertyType = "bool"
	TypeList   PropertyType = "list"
	TypeMap    PropertyType = "map"
)

// ParsePropertyType parses a type name, defaulting empty input to TypeAny.
func ParsePropertyType(s string) (PropertyType, error) {
	switch t := PropertyType(s); t {
	case "":
		return TypeAny, nil
	case TypeAny, TypeString, TypeNumber, TypeBool, TypeList, TypeMap:
		return t, nil
	case "object":
		return TypeMap, nil
	default:
		return "", fmt.Errorf("unknown property type %q", s)
	}
}

// Accepts reports whether v conforms to t. Null and unknown always conform.
func (t PropertyType) Accepts(v value.Value) bool {
	kind := value.KindOf(v)
	if kind == value.KindNull || kind == value.KindUnknown || t == TypeAny {
		return true
	}
	switch t {
	case TypeString:
		return kind == value.KindString
	case TypeNumber:
		return kind == value.KindNumber
	case TypeBool:
		return kind == value.KindBool
	case TypeList:
		return kind == value.KindList
	case TypeMap:
		return kind == value.KindMap
	}
	return false
}

// PropertySchema describes one property of a resource type.
type PropertySchema struct {
	Name string
	Type PropertyType

	// Default is applied when the property is not assigned. Nil means none.
	Default value.Value

	// Cloud marks a provider-computed property. Assigning it is illegal and
	// reading it before apply yields an unknown value.
	Cloud bool

	Sensitive bool
}

// TypeSchema is the property schema of a resource type.
type TypeSchema struct {
	Name   string
	Source string

	properties map[string]*PropertySchema
	order      []string
}

// NewTypeSchema creates an empty schema for a type.
func NewTypeSchema(name, source string) *TypeSchema {
	return &TypeSchema{
		Name:       name,
		Source:     source,
		properties: make(map[string]*PropertySchema),
	}
}

// Add declares a property. Redeclaring a property fails.
func (s *TypeSchema) Add(p *PropertySchema) error {
	if _, exists := s.properties[p.Name]; exists {
		return NewDeclarationExistsError(s.Name + "." + p.Name)
	}
	s.properties[p.Name] = p
	s.order = append(s.order, p.Name)
	return nil
}

// Property looks up a declared property.
func (s *TypeSchema) Property(name string) (*PropertySchema, bool) {
	p, ok := s.properties[name]
	return p, ok
}

// Properties returns the declared properties in declaration order.
func (s *TypeSchema) Properties() []*PropertySchema {
	out := make([]*PropertySchema, len(s.order))
	for i, name := range s.order {
		out[i] = s.properties[name]
	}
	return out
}

// SchemaSource resolves resource type names to schemas.
type SchemaSource interface {
	Schema(typeName string) (*TypeSchema, bool)
}

// SchemaSet is a map-backed SchemaSource. Later sets may shadow earlier ones
// through Overlay.
type SchemaSet map[string]*TypeSchema

// Schema implements SchemaSource.
func (s SchemaSet) Schema(typeName string) (*TypeSchema, bool) {
	schema, ok := s[typeName]
	return schema, ok
}

// Overlay returns a source that consults s first and then fallback.
func (s SchemaSet) Overlay(fallback SchemaSource) SchemaSource {
	return overlay{primary: s, fallback: fallback}
}

type overlay struct {
	primary  SchemaSet
	fallback SchemaSource
}

func (o overlay) Schema(typeName string) (*TypeSchema, bool) {
	if schema, ok := o.primary.Schema(typeName); ok {
		return schema, true
	}
	if o.fallback == nil {
		return nil, false
	}
	return o.fallback.Schema(typeName)
}
