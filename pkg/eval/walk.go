package eval

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-version"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cairnlang/cairn/pkg/addr"
	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/telemetry"
	"github.com/cairnlang/cairn/pkg/value"
)

// frame is the declaration context of a statement.
type frame struct {
	scope    *engine.Environment
	file     string
	parent   *addr.ResourcePath
	segments []addr.Segment

	// owner names the enclosing construct, "" at the top level.
	owner string
}

func (f frame) topLevel() bool {
	return f.owner == ""
}

func (f frame) path(typeName, name string, extra ...addr.Segment) addr.ResourcePath {
	segs := make([]addr.Segment, 0, len(f.segments)+len(extra))
	segs = append(segs, f.segments...)
	segs = append(segs, extra...)
	p := addr.ResourcePath{File: f.file, Type: typeName, Name: name}
	if len(segs) > 0 {
		p.Segments = segs
	}
	if f.parent != nil {
		p = p.WithParent(*f.parent)
	}
	return p
}

// walkProgram hoists the program's definitions and then visits its
// statements in source order.
func (in *Interpreter) walkProgram(f frame, program *ast.Program) error {
	if err := in.hoist(program); err != nil {
		return err
	}
	return in.walkStmts(f, program.Stmts)
}

func (in *Interpreter) walkStmts(f frame, stmts []ast.Stmt) error {
	for _, stmt := range stmts {
		if err := in.checkContext(); err != nil {
			return err
		}
		if err := in.walkStmt(f, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) walkStmt(f frame, stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.VarDecl:
		return in.declareVar(f, s)
	case *ast.InputDecl:
		if !f.topLevel() {
			return errorf(engine.ErrorKindInvalidInit, s.At, "input %q must be declared at the top level or in a component definition", s.Name)
		}
		return in.declareInput(f, s)
	case *ast.OutputDecl:
		return in.declareOutput(f, s)
	case *ast.EntityDecl:
		if s.Kind == ast.DeclComponent {
			return in.declareComponent(f, s)
		}
		return in.declareResource(f, s)
	case *ast.ForStmt:
		return in.walkFor(f, s)
	case *ast.SchemaDecl:
		if !f.topLevel() {
			return errorf(engine.ErrorKindInvalidInit, s.At, "schema %q must be declared at the top level, not inside %s", s.Name, f.owner)
		}
		return nil
	case *ast.ComponentDef:
		if !f.topLevel() {
			return errorf(engine.ErrorKindInvalidInit, s.At, "component %q must be defined at the top level, not inside %s", s.Type, f.owner)
		}
		return nil
	case *ast.ImportStmt:
		if !f.topLevel() {
			return errorf(engine.ErrorKindInvalidInit, s.At, "import %q must be at the top level, not inside %s", s.Path, f.owner)
		}
		return in.walkImport(s)
	case *ast.Settings:
		return in.checkSettings(s)
	default:
		return errorf(engine.ErrorKindEvaluation, stmt.Pos(), "unsupported statement %T", stmt)
	}
}

// hoist registers component definitions and schemas before any statement
// runs, so instances may precede their definitions.
func (in *Interpreter) hoist(program *ast.Program) error {
	for _, stmt := range program.Stmts {
		switch s := stmt.(type) {
		case *ast.ComponentDef:
			if _, exists := in.components[s.Type]; exists {
				return engine.NewDeclarationExistsError("component " + s.Type).WithPos(s.At)
			}
			in.components[s.Type] = s
		case *ast.SchemaDecl:
			if _, exists := in.local[s.Name]; exists {
				return engine.NewDeclarationExistsError("schema " + s.Name).WithPos(s.At)
			}
			schema, err := in.buildSchema(s)
			if err != nil {
				return err
			}
			in.local[s.Name] = schema
		}
	}
	return nil
}

func (in *Interpreter) buildSchema(s *ast.SchemaDecl) (*engine.TypeSchema, error) {
	schema := engine.NewTypeSchema(s.Name, "program")
	for _, sp := range s.Properties {
		typ, err := engine.ParsePropertyType(sp.Type)
		if err != nil {
			return nil, errorf(engine.ErrorKindInvalidInit, sp.At, "schema %s: %v", s.Name, err)
		}
		ps := &engine.PropertySchema{Name: sp.Name, Type: typ, Cloud: sp.Cloud, Sensitive: sp.Sensitive}
		if sp.Default != nil {
			if sp.Cloud {
				return nil, errorf(engine.ErrorKindInvalidInit, sp.At, "cloud property %q of %s cannot declare a default", sp.Name, s.Name)
			}
			v, err := in.evalStatic(sp.Default, in.root, fmt.Sprintf("default of %s.%s", s.Name, sp.Name))
			if err != nil {
				return nil, err
			}
			if !typ.Accepts(v) {
				return nil, errorf(engine.ErrorKindTypeMismatch, sp.At, "default of %s.%s expects %s, got %s", s.Name, sp.Name, typ, value.KindOf(v))
			}
			ps.Default = v
		}
		if err := schema.Add(ps); err != nil {
			return nil, wrapPos(err, sp.At)
		}
	}
	return schema, nil
}

// evalStatic evaluates an expression that must be known when its
// statement is visited.
func (in *Interpreter) evalStatic(e ast.Expr, scope *engine.Environment, what string) (value.Value, error) {
	ref, err := in.evalExpr(e, scope)
	if err != nil {
		return nil, err
	}
	switch r := ref.(type) {
	case engine.Pending:
		return nil, errorf(engine.ErrorKindEvaluation, e.Pos(),
			"%s depends on %s, which is not evaluated yet; it must be known when declared", what, r)
	case engine.Resolved:
		return r.Value, nil
	}
	return nil, errorf(engine.ErrorKindEvaluation, e.Pos(), "unexpected reference %T", ref)
}

// declareVar binds a variable. A value that still depends on unevaluated
// entities is bound as a deferred expression and re-read on every use.
func (in *Interpreter) declareVar(f frame, s *ast.VarDecl) error {
	ref, err := in.evalExpr(s.Value, f.scope)
	if err != nil {
		return wrapPos(err, s.At)
	}
	switch r := ref.(type) {
	case engine.Resolved:
		err = f.scope.Init(s.Name, r.Value)
	case engine.Pending:
		in.logger.Debug().Str("var", s.Name).Str("waiting_on", r.String()).Msg("Deferring variable")
		err = f.scope.InitDeferred(s.Name, in.deferred(s.Name, s.Value, f.scope))
	}
	return wrapPos(err, s.At)
}

func (in *Interpreter) deferred(name string, e ast.Expr, scope *engine.Environment) engine.Thunk {
	active := false
	return func() (engine.Reference, error) {
		if active {
			return nil, engine.NewCycleError([]string{name, name}).WithPos(e.Pos())
		}
		active = true
		defer func() { active = false }()
		return in.evalExpr(e, scope)
	}
}

func (in *Interpreter) declareInput(f frame, s *ast.InputDecl) error {
	typ, err := engine.ParsePropertyType(s.Type)
	if err != nil {
		return errorf(engine.ErrorKindInvalidInit, s.At, "input %q: %v", s.Name, err)
	}
	v, supplied := in.inputs[s.Name]
	if supplied {
		v = coerce(typ, v)
	} else {
		if s.Default == nil {
			return errorf(engine.ErrorKindInvalidInit, s.At, "input %q is required but no value was supplied", s.Name)
		}
		if v, err = in.evalStatic(s.Default, f.scope, "default of input "+s.Name); err != nil {
			return err
		}
	}
	if !typ.Accepts(v) {
		return errorf(engine.ErrorKindTypeMismatch, s.At, "input %q expects %s, got %s", s.Name, typ, value.KindOf(v))
	}
	if err := f.scope.Init(s.Name, v); err != nil {
		return wrapPos(err, s.At)
	}
	in.inputVal[s.Name] = v
	return nil
}

// coerce converts string input values given on the command line into the
// declared primitive type when they parse cleanly.
func coerce(typ engine.PropertyType, v value.Value) value.Value {
	s, ok := v.(value.String)
	if !ok {
		return v
	}
	switch typ {
	case engine.TypeNumber:
		if f, err := strconv.ParseFloat(string(s), 64); err == nil {
			return value.Number(f)
		}
	case engine.TypeBool:
		if b, err := strconv.ParseBool(string(s)); err == nil {
			return value.Bool(b)
		}
	}
	return v
}

func (in *Interpreter) declareOutput(f frame, s *ast.OutputDecl) error {
	ent := engine.NewEntity(engine.KindOutput, f.path("output", s.Name), s.At)
	ent.Properties = []ast.Property{{Name: engine.OutputValue, Value: s.Value, At: s.At}}
	ent.Scope = f.scope
	if s.Sensitive {
		ent.Sensitive[engine.OutputValue] = true
	}
	if s.Description != "" {
		ent.Metadata["description"] = value.String(s.Description)
	}
	if f.parent == nil {
		in.outputs = append(in.outputs, ent)
	}
	return in.declare(f, ent, "")
}

// instances expands count into one scope and segment per instance. A
// declaration without count yields a single instance.
func (in *Interpreter) instances(f frame, count ast.Expr, fn func(scope *engine.Environment, extra []addr.Segment) error) error {
	if count == nil {
		return fn(f.scope, nil)
	}
	v, err := in.evalStatic(count, f.scope, "count")
	if err != nil {
		return err
	}
	n, ok := v.(value.Number)
	if !ok {
		if _, unknown := v.(value.Unknown); unknown {
			return errorf(engine.ErrorKindEvaluation, count.Pos(), "count is not known until apply")
		}
		return errorf(engine.ErrorKindTypeMismatch, count.Pos(), "count must be a number, got %s", value.KindOf(v))
	}
	total, ok := n.Int()
	if !ok || total < 0 {
		return errorf(engine.ErrorKindEvaluation, count.Pos(), "count must be a non-negative whole number, got %s", n)
	}
	for i := 0; i < total; i++ {
		scope := f.scope.Child()
		if err := scope.Init("count", value.Map{"index": value.Number(i)}); err != nil {
			return err
		}
		if err := fn(scope, []addr.Segment{addr.Index(i)}); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) declareResource(f frame, s *ast.EntityDecl) error {
	if err := in.checkDirectives(s.Directives); err != nil {
		return err
	}
	schema := in.schemaFor(s.Type)
	return in.instances(f, s.Count, func(scope *engine.Environment, extra []addr.Segment) error {
		ent := engine.NewEntity(engine.KindResource, f.path(s.Type, s.Name, extra...), s.At)
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
		return in.declare(f, ent, alias)
	})
}

func (in *Interpreter) walkFor(f frame, s *ast.ForStmt) error {
	coll, err := in.evalStatic(s.Coll, f.scope, "for collection")
	if err != nil {
		return err
	}

	type iteration struct {
		key value.Value
		val value.Value
		seg addr.Segment
	}
	var iters []iteration
	switch c := coll.(type) {
	case value.List:
		for i, el := range c {
			seg := addr.Index(i)
			if s.KeyVar == "" {
				if seg, err = segmentFor(el); err != nil {
					return wrapPos(err, s.At)
				}
			}
			iters = append(iters, iteration{key: value.Number(i), val: el, seg: seg})
		}
	case value.Map:
		for _, k := range c.Keys() {
			iters = append(iters, iteration{key: value.String(k), val: c[k], seg: addr.Key(k)})
		}
	case value.Unknown:
		return errorf(engine.ErrorKindEvaluation, s.At, "for collection is not known until apply")
	default:
		return errorf(engine.ErrorKindTypeMismatch, s.At, "for requires a list or map, got %s", value.KindOf(coll))
	}

	for _, it := range iters {
		scope := f.scope.Child()
		if s.KeyVar != "" {
			if err := scope.Init(s.KeyVar, it.key); err != nil {
				return wrapPos(err, s.At)
			}
		}
		if err := scope.Init(s.ValVar, it.val); err != nil {
			return wrapPos(err, s.At)
		}
		body := f
		body.scope = scope
		body.segments = append(append([]addr.Segment(nil), f.segments...), it.seg)
		body.owner = "a for loop"
		if err := in.walkStmts(body, s.Body); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) walkImport(s *ast.ImportStmt) error {
	if s.Program == nil {
		return errorf(engine.ErrorKindEvaluation, s.At, "import %q was not loaded", s.Path)
	}
	if in.walked[s.Program.File] {
		in.logger.Debug().Str("import", s.Path).Str("file", s.Program.File).Msg("Import already walked")
		return nil
	}
	in.walked[s.Program.File] = true

	_, span := in.tracer.StartSpan(in.ctx, "import", attribute.String("import.path", s.Path))
	defer span.End()

	in.imports = append(in.imports, s.Program.File)
	in.logger.Debug().Str("import", s.Path).Str("file", s.Program.File).Msg("Walking import")
	if err := in.walkProgram(frame{scope: in.root, file: s.Program.File}, s.Program); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

func (in *Interpreter) checkSettings(s *ast.Settings) error {
	if s.RequiredVersion == "" || in.version == "" {
		return nil
	}
	constraints, err := version.NewConstraint(s.RequiredVersion)
	if err != nil {
		return errorf(engine.ErrorKindInvalidInit, s.At, "invalid required_version %q: %v", s.RequiredVersion, err)
	}
	current, err := version.NewVersion(in.version)
	if err != nil {
		in.logger.Debug().Str("version", in.version).Msg("Skipping required_version check for unversioned build")
		return nil
	}
	if !constraints.Check(current) {
		return errorf(engine.ErrorKindEvaluation, s.At, "cairn %s does not satisfy required_version %q", current, s.RequiredVersion)
	}
	return nil
}
