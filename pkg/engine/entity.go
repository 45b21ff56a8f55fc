package engine

import (
	"fmt"
	"sort"

	"github.com/cairnlang/cairn/pkg/addr"
	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/value"
)

// OutputValue is the property holding an output entity's value.
const OutputValue = "value"

// Directive is a directive invocation with arguments resolved in the
// entity's last pass.
type Directive struct {
	Name string
	Args map[string]value.Value
	Pos  ast.Pos
}

// Entity is a resource, component instance or output tracked by its path.
type Entity struct {
	// Seq is the declaration order, used as the deterministic tie-break.
	Seq int

	Path addr.ResourcePath
	Key  string
	Kind EntityKind
	Type string
	Pos  ast.Pos

	// Declaration parts consumed by every pass.
	Properties []ast.Property
	DependsOn  []ast.Expr
	Directives []ast.Directive
	Tags       ast.Expr
	Providers  []string

	// Scope is the declaring scope; each pass evaluates in a fresh child of it.
	Scope *Environment

	// Schema is the resolved type schema, nil when the type has none.
	Schema *TypeSchema

	State EntityState

	// Values holds the properties resolved by the latest pass.
	Values map[string]value.Value

	// TagValues holds the resolved tags once evaluated.
	TagValues value.Map

	// Resolved directive invocations from the latest pass.
	Invocations []Directive

	// Pending maps each unresolved target of the latest pass to its provenance.
	Pending map[string]Provenance

	// Unresolved is the number of distinct pending targets.
	Unresolved int

	// Passes counts how many times the collector ran over the entity.
	Passes int

	// Sensitive lists properties masked in printed output.
	Sensitive map[string]bool

	// Metadata set by directives, such as description or existing.
	Metadata map[string]value.Value

	// Origins maps a property whose expression was a bare entity reference
	// to that entity's key.
	Origins map[string]string
}

// NewEntity creates an entity in the not-started state.
func NewEntity(kind EntityKind, path addr.ResourcePath, pos ast.Pos) *Entity {
	return &Entity{
		Path:      path,
		Key:       path.SegmentName(),
		Kind:      kind,
		Type:      path.Type,
		Pos:       pos,
		State:     StateNotStarted,
		Values:    make(map[string]value.Value),
		Pending:   make(map[string]Provenance),
		Sensitive: make(map[string]bool),
		Metadata:  make(map[string]value.Value),
		Origins:   make(map[string]string),
	}
}

// Evaluated reports whether the entity is fully evaluated.
func (e *Entity) Evaluated() bool {
	return e.State == StateEvaluated
}

// Property reads a property as seen by other entities: the assigned value,
// else the schema default, else unknown for cloud properties.
func (e *Entity) Property(name string) (value.Value, bool) {
	if v, ok := e.Values[name]; ok {
		return v, true
	}
	if e.Schema != nil {
		if p, ok := e.Schema.Property(name); ok {
			switch {
			case p.Cloud:
				return value.Unknown{}, true
			case p.Default != nil:
				return p.Default, true
			default:
				return value.Null{}, true
			}
		}
	}
	return nil, false
}

// Snapshot returns every readable property as a map value.
func (e *Entity) Snapshot() value.Map {
	out := make(value.Map, len(e.Values))
	if e.Schema != nil {
		for _, p := range e.Schema.Properties() {
			if v, ok := e.Property(p.Name); ok {
				out[p.Name] = v
			}
		}
	}
	for k, v := range e.Values {
		out[k] = v
	}
	return out
}

// PendingTargets returns the pending targets of the latest pass, sorted.
func (e *Entity) PendingTargets() []string {
	targets := make([]string, 0, len(e.Pending))
	for t := range e.Pending {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// String returns the full path.
func (e *Entity) String() string {
	return e.Path.String()
}

// EntityTable is the arena of every registered entity, keyed by
// registration key and ordered by declaration.
type EntityTable struct {
	byKey  map[string]*Entity
	bases  map[string]int
	order  []*Entity
	nextID int
}

// NewEntityTable creates an empty table.
func NewEntityTable() *EntityTable {
	return &EntityTable{
		byKey: make(map[string]*Entity),
		bases: make(map[string]int),
	}
}

// Add registers e under its key and assigns its sequence number.
func (t *EntityTable) Add(e *Entity) error {
	if e.Key == "" {
		return NewEvaluationError("entity has an empty registration key", nil)
	}
	if _, exists := t.byKey[e.Key]; exists {
		return NewDeclarationExistsError(e.Key).WithEntity(e.Key)
	}
	e.Seq = t.nextID
	t.nextID++
	t.byKey[e.Key] = e
	t.order = append(t.order, e)
	if e.Path.Indexed() {
		t.bases[e.Path.BaseName()]++
	}
	return nil
}

// Get looks up an entity by registration key.
func (t *EntityTable) Get(key string) (*Entity, bool) {
	e, ok := t.byKey[key]
	return e, ok
}

// HasBase reports whether any indexed entity was generated from base.
func (t *EntityTable) HasBase(base string) bool {
	return t.bases[base] > 0
}

// Knows reports whether name is either a registered key or the base of
// an indexed collection.
func (t *EntityTable) Knows(name string) bool {
	_, ok := t.byKey[name]
	return ok || t.HasBase(name)
}

// All returns every entity in declaration order.
func (t *EntityTable) All() []*Entity {
	out := make([]*Entity, len(t.order))
	copy(out, t.order)
	return out
}

// Keys returns every registration key in declaration order.
func (t *EntityTable) Keys() []string {
	keys := make([]string, len(t.order))
	for i, e := range t.order {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of registered entities.
func (t *EntityTable) Len() int {
	return len(t.order)
}

// Count returns the number of entities per kind.
func (t *EntityTable) Count() map[EntityKind]int {
	counts := make(map[EntityKind]int)
	for _, e := range t.order {
		counts[e.Kind]++
	}
	return counts
}

// MustGet is Get for keys known to exist.
func (t *EntityTable) MustGet(key string) *Entity {
	e, ok := t.byKey[key]
	if !ok {
		panic(fmt.Sprintf("entity %q not registered", key))
	}
	return e
}
