package eval

import (
	"fmt"

	"github.com/cairnlang/cairn/pkg/addr"
	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
)

// declareComponent instantiates a component definition. The instance is an
// entity whose properties are its inputs; the definition body is then
// walked with every nested declaration addressed under the instance.
func (in *Interpreter) declareComponent(f frame, s *ast.EntityDecl) error {
	def, ok := in.components[s.Type]
	if !ok {
		names := make([]string, 0, len(in.components))
		for name := range in.components {
			names = append(names, name)
		}
		msg := fmt.Sprintf("component type %q is not defined", s.Type)
		if suggestion := engine.Suggest(s.Type, names); suggestion != "" {
			msg += fmt.Sprintf("; did you mean %q?", suggestion)
		}
		return errorf(engine.ErrorKindNotFound, s.At, "%s", msg)
	}
	if err := in.checkDirectives(s.Directives); err != nil {
		return err
	}

	schema, err := in.componentSchema(def)
	if err != nil {
		return err
	}
	assigned := make(map[string]bool, len(s.Properties))
	for _, p := range s.Properties {
		assigned[p.Name] = true
	}
	for _, input := range def.Inputs {
		if input.Default == nil && !assigned[input.Name] {
			return errorf(engine.ErrorKindInvalidInit, s.At, "component %s %q requires input %q", s.Type, s.Name, input.Name)
		}
	}

	return in.instances(f, s.Count, func(scope *engine.Environment, extra []addr.Segment) error {
		ent := engine.NewEntity(engine.KindComponent, f.path(s.Type, s.Name, extra...), s.At)
		ent.Properties = s.Properties
		ent.DependsOn = s.DependsOn
		ent.Directives = s.Directives
		ent.Tags = s.Tags
		ent.Providers = s.Providers
		ent.Schema = schema
		ent.Scope = scope

		alias := s.Name
		if len(extra) > 0 {
			alias = ""
		}
		if err := in.declare(f, ent, alias); err != nil {
			return err
		}

		body := in.root.Child()
		body.SetNamespace(ent.Key, declaredNames(def.Body))
		for _, input := range def.Inputs {
			if err := body.InitDeferred(input.Name, in.inputThunk(ent, input.Name)); err != nil {
				return wrapPos(err, input.At)
			}
		}
		path := ent.Path
		return in.walkStmts(frame{
			scope:  body,
			file:   f.file,
			parent: &path,
			owner:  "component " + def.Type,
		}, def.Body)
	})
}

// declaredNames collects the entity names a component body declares,
// including those inside for loops.
func declaredNames(stmts []ast.Stmt) map[string]bool {
	names := make(map[string]bool)
	var collect func([]ast.Stmt)
	collect = func(stmts []ast.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *ast.EntityDecl:
				names[s.Name] = true
			case *ast.OutputDecl:
				names[s.Name] = true
			case *ast.ForStmt:
				collect(s.Body)
			}
		}
	}
	collect(stmts)
	return names
}

// inputThunk reads a component input from the instance entity, staying
// pending until the instance is evaluated.
func (in *Interpreter) inputThunk(ent *engine.Entity, name string) engine.Thunk {
	return func() (engine.Reference, error) {
		if !ent.Evaluated() {
			return engine.Pending{Target: ent.Key, Path: []string{name}, Provenance: engine.ProvenanceChained}, nil
		}
		in.noteRead(ent.Key)
		v, _ := ent.Property(name)
		return engine.Resolve(v), nil
	}
}

// componentSchema builds the input schema of a definition. Defaults are
// evaluated once, in the root scope.
func (in *Interpreter) componentSchema(def *ast.ComponentDef) (*engine.TypeSchema, error) {
	if schema, ok := in.componentSchemas[def.Type]; ok {
		return schema, nil
	}
	schema := engine.NewTypeSchema(def.Type, "component")
	for _, input := range def.Inputs {
		typ, err := engine.ParsePropertyType(input.Type)
		if err != nil {
			return nil, errorf(engine.ErrorKindInvalidInit, input.At, "component %s input %q: %v", def.Type, input.Name, err)
		}
		ps := &engine.PropertySchema{Name: input.Name, Type: typ}
		if input.Default != nil {
			v, err := in.evalStatic(input.Default, in.root, fmt.Sprintf("default of %s input %s", def.Type, input.Name))
			if err != nil {
				return nil, err
			}
			ps.Default = v
		}
		if err := schema.Add(ps); err != nil {
			return nil, wrapPos(err, input.At)
		}
	}
	in.componentSchemas[def.Type] = schema
	return schema, nil
}
