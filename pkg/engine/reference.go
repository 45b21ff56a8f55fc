package engine

import (
	"strings"

	"github.com/cairnlang/cairn/pkg/value"
)

// Reference is the result of any lookup that may name a not-yet-evaluated
// entity. It is either Pending or Resolved; use Match or a type switch
// covering both.
type Reference interface {
	reference()
}

// Pending is a lookup that cannot complete until Target is evaluated.
type Pending struct {
	// Target is the registration key or bare name being waited on.
	Target string

	// Path is the property chain accessed on the target so far.
	Path []string

	Provenance Provenance
}

// Resolved is a lookup that produced a concrete value. Entity is set when
// the value was read from an entity.
type Resolved struct {
	Entity *Entity
	Value  value.Value
}

func (Pending) reference()  {}
func (Resolved) reference() {}

// Append returns a new pending reference with prop added to the chain.
func (p Pending) Append(prop string) Pending {
	path := make([]string, len(p.Path), len(p.Path)+1)
	copy(path, p.Path)
	return Pending{
		Target:     p.Target,
		Path:       append(path, prop),
		Provenance: ProvenanceChained,
	}
}

// String renders the pending chain, e.g. main.network.id.
func (p Pending) String() string {
	if len(p.Path) == 0 {
		return p.Target
	}
	return p.Target + "." + strings.Join(p.Path, ".")
}

// Match dispatches on the reference variant.
func Match[T any](r Reference, onPending func(Pending) T, onResolved func(Resolved) T) T {
	switch ref := r.(type) {
	case Pending:
		return onPending(ref)
	case Resolved:
		return onResolved(ref)
	default:
		panic("engine: unknown reference variant")
	}
}

// Resolve wraps a plain value.
func Resolve(v value.Value) Resolved {
	return Resolved{Value: v}
}

// EntityRef returns a Resolved carrying the entity's snapshot if it is
// evaluated, otherwise a Pending on its key. An output reads as its value.
func EntityRef(ent *Entity) Reference {
	if ent.Evaluated() {
		if ent.Kind == KindOutput {
			v, ok := ent.Values[OutputValue]
			if !ok {
				v = value.Null{}
			}
			return Resolved{Entity: ent, Value: v}
		}
		return Resolved{Entity: ent, Value: ent.Snapshot()}
	}
	return Pending{Target: ent.Key, Provenance: ProvenanceProperty}
}

// ResolveOrPending looks name up in env: variables first, then the
// entities of the enclosing component body, then the root resource
// namespace. An unbound name is Pending, never an error.
func ResolveOrPending(env *Environment, name string, hops int) (Reference, error) {
	if b, err := env.Lookup(name, hops); err == nil {
		switch b.Kind {
		case BindEntity:
			return EntityRef(b.Entity), nil
		case BindDeferred:
			return b.Deferred()
		default:
			return Resolved{Value: b.Value}, nil
		}
	}
	if key, ok := env.Qualify(name); ok {
		if ent, ok := env.LookupResource(key); ok {
			return EntityRef(ent), nil
		}
		return Pending{Target: key, Provenance: ProvenanceProperty}, nil
	}
	if ent, ok := env.LookupResource(name); ok {
		return EntityRef(ent), nil
	}
	return Pending{Target: name, Provenance: ProvenanceProperty}, nil
}
