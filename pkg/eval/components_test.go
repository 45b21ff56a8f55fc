package eval

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

func serverDef() *ast.ComponentDef {
	return &ast.ComponentDef{
		Type: "server",
		Inputs: []ast.InputDecl{
			{Name: "size", Type: "number"},
			{Name: "region", Type: "string", Default: str("eu-west")},
		},
		Body: []ast.Stmt{
			resource("vm", "inner", prop("size", ast.Name("size")), prop("region", ast.Name("region"))),
			&ast.OutputDecl{Name: "ip", Value: ast.Ref("inner", "size")},
		},
	}
}

func instance(typ, name string, props ...ast.Property) *ast.EntityDecl {
	return &ast.EntityDecl{Kind: ast.DeclComponent, Type: typ, Name: name, Properties: props}
}

func TestComponent_Instance(t *testing.T) {
	res := mustRun(t,
		resource("probe", "reader", prop("ip", ast.Ref("api", "ip")), prop("size", ast.Ref("api", "size"))),
		instance("server", "api", prop("size", num(2))),
		serverDef(),
	)

	want := []string{"reader", "api", "api.inner", "api.ip"}
	if diff := cmp.Diff(want, res.Entities.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	inner := mustEntity(t, res, "api.inner")
	assertValue(t, inner, "size", value.Number(2))
	assertValue(t, inner, "region", value.String("eu-west"))
	if got := inner.Path.String(); got != "server.api.vm.inner" {
		t.Errorf("Expected path server.api.vm.inner, got %s", got)
	}

	reader := mustEntity(t, res, "reader")
	assertValue(t, reader, "ip", value.Number(2))
	assertValue(t, reader, "size", value.Number(2))

	if len(res.Outputs) != 0 {
		t.Errorf("Expected component outputs to stay off the top-level list, got %d", len(res.Outputs))
	}
}

func TestComponent_InputsFollowPendingValues(t *testing.T) {
	res := mustRun(t,
		serverDef(),
		instance("server", "api", prop("size", ast.Ref("sizing", "value"))),
		resource("cfg", "sizing", prop("value", num(8))),
	)

	assertValue(t, mustEntity(t, res, "api.inner"), "size", value.Number(8))
	if res.Finalized.Position("sizing") > res.Finalized.Position("api.inner") {
		t.Error("Expected sizing before api.inner")
	}
}

func appDef(body ...ast.Stmt) *ast.ComponentDef {
	return &ast.ComponentDef{Type: "app", Body: body}
}

func TestComponent_ForwardSiblingReference(t *testing.T) {
	res := mustRun(t,
		appDef(
			resource("vm", "web", prop("host", ast.Ref("db", "host"))),
			resource("vm", "db", prop("host", str("10.0.0.1"))),
		),
		instance("app", "api"),
	)

	assertValue(t, mustEntity(t, res, "api.web"), "host", value.String("10.0.0.1"))
	if res.Finalized.Position("api.db") > res.Finalized.Position("api.web") {
		t.Error("Expected api.db before api.web")
	}
}

func TestComponent_SiblingShadowsTopLevel(t *testing.T) {
	res := mustRun(t,
		resource("vm", "db", prop("host", str("outer"))),
		appDef(
			resource("vm", "web", prop("host", ast.Ref("db", "host"))),
			resource("vm", "db", prop("host", str("inner"))),
		),
		instance("app", "api"),
		resource("vm", "client", prop("host", ast.Ref("db", "host"))),
	)

	assertValue(t, mustEntity(t, res, "api.web"), "host", value.String("inner"))
	assertValue(t, mustEntity(t, res, "client"), "host", value.String("outer"))
}

func TestComponent_TopLevelReferenceFromBody(t *testing.T) {
	res := mustRun(t,
		appDef(resource("vm", "web", prop("host", ast.Ref("shared", "host")))),
		instance("app", "api"),
		resource("vm", "shared", prop("host", str("10.0.0.9"))),
	)

	assertValue(t, mustEntity(t, res, "api.web"), "host", value.String("10.0.0.9"))
}

func TestComponent_ForwardReferenceIntoLoop(t *testing.T) {
	res := mustRun(t,
		appDef(
			resource("lb", "front", prop("target", member(index(ast.Name("node"), str("b")), "name"))),
			&ast.ForStmt{
				ValVar: "n",
				Coll:   list(str("a"), str("b")),
				Body:   []ast.Stmt{resource("vm", "node", prop("name", ast.Name("n")))},
			},
		),
		instance("app", "api"),
	)

	mustEntity(t, res, `api.node["a"]`)
	assertValue(t, mustEntity(t, res, "api.front"), "target", value.String("b"))
}

func TestComponent_InstancesResolveTheirOwnSiblings(t *testing.T) {
	res := mustRun(t,
		&ast.ComponentDef{
			Type:   "app",
			Inputs: []ast.InputDecl{{Name: "host", Type: "string"}},
			Body: []ast.Stmt{
				resource("vm", "web", prop("host", ast.Ref("db", "host"))),
				resource("vm", "db", prop("host", ast.Name("host"))),
			},
		},
		instance("app", "blue", prop("host", str("10.0.0.1"))),
		instance("app", "green", prop("host", str("10.0.0.2"))),
	)

	assertValue(t, mustEntity(t, res, "blue.web"), "host", value.String("10.0.0.1"))
	assertValue(t, mustEntity(t, res, "green.web"), "host", value.String("10.0.0.2"))
}

func TestComponent_CycleInsideBody(t *testing.T) {
	_, err := run(t,
		appDef(
			resource("vm", "a", prop("x", ast.Ref("b", "x"))),
			resource("vm", "b", prop("x", ast.Ref("a", "x"))),
		),
		instance("app", "api"),
	)
	if !engine.IsCycle(err) {
		t.Fatalf("Expected cycle error, got: %v", err)
	}
	var evalErr *engine.EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("Expected *EvalError, got %T", err)
	}
	if diff := cmp.Diff([]string{"api.b", "api.a", "api.b"}, evalErr.Cycle); diff != "" {
		t.Errorf("Cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestComponent_Nested(t *testing.T) {
	outer := &ast.ComponentDef{
		Type:   "stack",
		Inputs: []ast.InputDecl{{Name: "size", Type: "number"}},
		Body: []ast.Stmt{
			instance("server", "web", prop("size", ast.Name("size"))),
			&ast.OutputDecl{Name: "ip", Value: ast.Ref("web", "ip")},
		},
	}
	res := mustRun(t,
		serverDef(),
		outer,
		instance("stack", "prod", prop("size", num(4))),
		&ast.OutputDecl{Name: "ip", Value: ast.Ref("prod", "ip")},
	)

	mustEntity(t, res, "prod.web.inner")
	out, _ := res.Output("ip")
	if out.Value != value.Number(4) {
		t.Errorf("Expected 4, got %s", out.Value)
	}
}

func TestComponent_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stmts []ast.Stmt
		check func(error) bool
	}{
		{
			name:  "missing required input",
			stmts: []ast.Stmt{serverDef(), instance("server", "api")},
			check: engine.IsInvalidInit,
		},
		{
			name:  "unknown input",
			stmts: []ast.Stmt{serverDef(), instance("server", "api", prop("size", num(1)), prop("colour", str("red")))},
			check: engine.IsInvalidInit,
		},
		{
			name:  "input type",
			stmts: []ast.Stmt{serverDef(), instance("server", "api", prop("size", str("big")))},
			check: engine.IsTypeMismatch,
		},
		{
			name:  "undefined component",
			stmts: []ast.Stmt{serverDef(), instance("sever", "api")},
			check: engine.IsNotFound,
		},
		{
			name: "definition inside definition",
			stmts: []ast.Stmt{
				&ast.ComponentDef{Type: "outer", Body: []ast.Stmt{&ast.ComponentDef{Type: "inner"}}},
				instance("outer", "x"),
			},
			check: engine.IsInvalidInit,
		},
		{
			name: "duplicate definition",
			stmts: []ast.Stmt{
				&ast.ComponentDef{Type: "server"},
				&ast.ComponentDef{Type: "server"},
			},
			check: engine.IsDeclarationExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.stmts...)
			if !tt.check(err) {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
