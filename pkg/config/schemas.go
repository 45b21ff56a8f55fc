package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

// SchemaRegistry holds provider type schemas written in CUE. Every regular
// top-level field of a schema file declares one resource type:
//
//	vm: {
//		size:      int & >=1 & <=64 | *1
//		image:     string
//		id:        string @cloud()
//		password?: string @sensitive()
//	}
//
// A registry is both an engine.SchemaSource, giving the evaluator property
// types, defaults and cloud flags, and an entity validator that unifies each
// evaluated resource with its CUE constraints.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	types   map[string]*engine.TypeSchema
	mu      sync.Mutex
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
		types:   make(map[string]*engine.TypeSchema),
	}
}

// LoadFiles registers every schema file in paths.
func (sr *SchemaRegistry) LoadFiles(fs afero.Fs, paths ...string) error {
	for _, path := range paths {
		src, err := afero.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		if err := sr.RegisterSchema(path, string(src)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSchema compiles a schema file and registers the types it
// declares. source names the file in errors and in TypeSchema.Source.
func (sr *SchemaRegistry) RegisterSchema(source, src string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	root := sr.ctx.CompileString(src, cue.Filename(source))
	if err := root.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", source, cueErrors(err))
	}

	iter, err := root.Fields()
	if err != nil {
		return fmt.Errorf("schema %s must be a struct: %w", source, err)
	}

	compiled := make(map[string]*engine.TypeSchema)
	values := make(map[string]cue.Value)
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType() != cue.StringLabel {
			continue
		}
		name := sel.Unquoted()
		if _, exists := sr.schemas[name]; exists {
			return engine.NewDeclarationExistsError("schema " + name)
		}
		ts, err := typeSchema(name, source, iter.Value())
		if err != nil {
			return fmt.Errorf("schema %s: %w", source, err)
		}
		compiled[name] = ts
		values[name] = iter.Value()
	}

	for name, ts := range compiled {
		sr.types[name] = ts
		sr.schemas[name] = values[name]
	}
	return nil
}

func typeSchema(name, source string, v cue.Value) (*engine.TypeSchema, error) {
	iter, err := v.Fields(cue.Optional(true))
	if err != nil {
		return nil, fmt.Errorf("type %s must be a struct: %w", name, err)
	}

	ts := engine.NewTypeSchema(name, source)
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType() != cue.StringLabel {
			continue
		}
		field := iter.Value()
		cloudAttr := field.Attribute("cloud")
		sensitiveAttr := field.Attribute("sensitive")
		prop := &engine.PropertySchema{
			Name:      sel.Unquoted(),
			Type:      propertyType(field.IncompleteKind()),
			Cloud:     cloudAttr.Err() == nil,
			Sensitive: sensitiveAttr.Err() == nil,
		}
		if d, ok := field.Default(); ok && d.IsConcrete() {
			def, err := fromCUE(d)
			if err != nil {
				return nil, fmt.Errorf("default of %s.%s: %w", name, prop.Name, err)
			}
			prop.Default = def
		}
		if err := ts.Add(prop); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

func propertyType(k cue.Kind) engine.PropertyType {
	k &^= cue.NullKind
	switch {
	case k == cue.StringKind:
		return engine.TypeString
	case k == cue.BoolKind:
		return engine.TypeBool
	case k != 0 && k&^cue.NumberKind == 0:
		return engine.TypeNumber
	case k == cue.ListKind:
		return engine.TypeList
	case k == cue.StructKind:
		return engine.TypeMap
	default:
		return engine.TypeAny
	}
}

func fromCUE(v cue.Value) (value.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return value.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return value.Bool(b), err
	case cue.IntKind, cue.FloatKind:
		f, err := v.Float64()
		return value.Number(f), err
	case cue.StringKind:
		s, err := v.String()
		return value.String(s), err
	}
	var raw interface{}
	if err := v.Decode(&raw); err != nil {
		return nil, err
	}
	return value.FromGo(raw)
}

// GetSchema returns the CUE value declaring a type.
func (sr *SchemaRegistry) GetSchema(typeName string) (cue.Value, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	v, ok := sr.schemas[typeName]
	return v, ok
}

// ListSchemas returns every registered type name, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema implements engine.SchemaSource.
func (sr *SchemaRegistry) Schema(typeName string) (*engine.TypeSchema, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	ts, ok := sr.types[typeName]
	return ts, ok
}

// ValidateEntity unifies the entity's known properties with its type's CUE
// constraints. Types without a CUE schema pass. Missing properties are
// not an error; the evaluator applies defaults and schema types itself.
func (sr *SchemaRegistry) ValidateEntity(ctx context.Context, ent *engine.Entity) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[ent.Type]
	if !ok {
		return nil
	}

	data := make(map[string]interface{}, len(ent.Values))
	for name, v := range ent.Values {
		if value.ContainsUnknown(v) {
			continue
		}
		data[name] = value.ToGo(v)
	}

	encoded := sr.ctx.Encode(data)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("failed to encode %s: %w", ent.Key, err)
	}
	if err := schema.Unify(encoded).Validate(); err != nil {
		return cueErrors(err)
	}
	return nil
}

// cueErrors flattens a CUE error list so each constraint failure is
// reported on its own.
func cueErrors(err error) error {
	list := cueerrors.Errors(err)
	if len(list) <= 1 {
		return err
	}
	var result *multierror.Error
	for _, e := range list {
		result = multierror.Append(result, e)
	}
	return result
}
