package engine

import (
	"fmt"
	"sort"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/value"
)

// AnyHops makes Lookup search every enclosing scope.
const AnyHops = ast.AnyHops

// BindingKind distinguishes what a scope name is bound to.
type BindingKind int

const (
	// BindValue is a concrete value.
	BindValue BindingKind = iota

	// BindEntity is a short-name alias for an entity.
	BindEntity

	// BindDeferred is an expression re-evaluated on every read.
	BindDeferred
)

// Thunk produces a reference on demand. Deferred bindings use it to re-read
// values that may still be pending.
type Thunk func() (Reference, error)

// Binding is the target of a scope name.
type Binding struct {
	Kind     BindingKind
	Value    value.Value
	Entity   *Entity
	Deferred Thunk
}

// Environment is a parent-linked namespace. Only the root carries the
// resource namespace.
type Environment struct {
	parent   *Environment
	vars     map[string]Binding
	entities *EntityTable

	// prefix and locals are set on the body scope of a component
	// instance. Bare names in locals resolve to prefix.name.
	prefix string
	locals map[string]bool
}

// NewRootEnvironment creates a root scope with an empty resource namespace.
func NewRootEnvironment() *Environment {
	return &Environment{
		vars:     make(map[string]Binding),
		entities: NewEntityTable(),
	}
}

// Child creates a nested scope.
func (e *Environment) Child() *Environment {
	return &Environment{parent: e, vars: make(map[string]Binding)}
}

// Parent returns the enclosing scope, nil at the root.
func (e *Environment) Parent() *Environment {
	return e.parent
}

// Root returns the outermost scope.
func (e *Environment) Root() *Environment {
	for e.parent != nil {
		e = e.parent
	}
	return e
}

// SetNamespace marks e as the body scope of the component instance
// registered under prefix. locals are the entity names the body declares.
func (e *Environment) SetNamespace(prefix string, locals map[string]bool) {
	e.prefix = prefix
	e.locals = locals
}

// Qualify returns the registration key of a bare entity name declared by
// the nearest enclosing component body. It reports false outside a
// component body and for names the body does not declare.
func (e *Environment) Qualify(name string) (string, bool) {
	for scope := e; scope != nil; scope = scope.parent {
		if scope.locals == nil {
			continue
		}
		if scope.locals[name] {
			return scope.prefix + "." + name, true
		}
		return "", false
	}
	return "", false
}

// Init binds name in this scope. Redefinition within the same scope fails.
func (e *Environment) Init(name string, v value.Value) error {
	return e.bind(name, Binding{Kind: BindValue, Value: v})
}

// InitDeferred binds name to a thunk evaluated on every lookup.
func (e *Environment) InitDeferred(name string, thunk Thunk) error {
	return e.bind(name, Binding{Kind: BindDeferred, Deferred: thunk})
}

// Alias exposes a short name in this scope for an entity that is already
// registered at the root. No second registration is made.
func (e *Environment) Alias(name string, ent *Entity) error {
	return e.bind(name, Binding{Kind: BindEntity, Entity: ent})
}

// Define binds or overwrites name in this scope.
func (e *Environment) Define(name string, v value.Value) {
	e.vars[name] = Binding{Kind: BindValue, Value: v}
}

func (e *Environment) bind(name string, b Binding) error {
	if _, exists := e.vars[name]; exists {
		return NewDeclarationExistsError(name)
	}
	e.vars[name] = b
	return nil
}

// Lookup finds name in this scope or, walking outward, in at most hops
// enclosing scopes. AnyHops searches the whole chain.
func (e *Environment) Lookup(name string, hops int) (Binding, error) {
	scope := e
	for depth := 0; scope != nil; depth++ {
		if hops != AnyHops && depth > hops {
			break
		}
		if b, ok := scope.vars[name]; ok {
			return b, nil
		}
		scope = scope.parent
	}
	return Binding{}, NewNotFoundError(fmt.Sprintf("%q is not defined", name))
}

// Has reports whether name is bound in this scope itself.
func (e *Environment) Has(name string) bool {
	_, ok := e.vars[name]
	return ok
}

// Names returns every visible variable name, sorted.
func (e *Environment) Names() []string {
	seen := make(map[string]bool)
	for scope := e; scope != nil; scope = scope.parent {
		for name := range scope.vars {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterResource registers ent under key in the root resource namespace.
func (e *Environment) RegisterResource(key string, ent *Entity) error {
	if ent.Key != key {
		return NewEvaluationError(fmt.Sprintf("entity key %q does not match registration key %q", ent.Key, key), nil)
	}
	return e.Root().entities.Add(ent)
}

// LookupResource finds a registered entity by key from any scope.
func (e *Environment) LookupResource(key string) (*Entity, bool) {
	return e.Root().entities.Get(key)
}

// Entities returns the root resource namespace.
func (e *Environment) Entities() *EntityTable {
	return e.Root().entities
}
