package eval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

func TestRun_OrderIndependence(t *testing.T) {
	res := mustRun(t,
		resource("vm", "second", prop("maxCount", ast.Ref("main", "maxCount"))),
		resource("vm", "main", prop("maxCount", num(1))),
	)

	second := mustEntity(t, res, "second")
	assertValue(t, second, "maxCount", value.Number(1))
	if second.Passes != 2 {
		t.Errorf("Expected second to be evaluated in 2 passes, got %d", second.Passes)
	}

	if res.Finalized.Position("main") > res.Finalized.Position("second") {
		t.Errorf("Expected main before second, got order %v", res.Finalized.Levels)
	}
}

func TestRun_CycleRejection(t *testing.T) {
	tests := []struct {
		name  string
		stmts []ast.Stmt
		cycle []string
	}{
		{
			name: "direct",
			stmts: []ast.Stmt{
				resource("vm", "a", prop("x", ast.Ref("b", "x"))),
				resource("vm", "b", prop("x", ast.Ref("a", "x"))),
			},
			cycle: []string{"b", "a", "b"},
		},
		{
			name: "transitive",
			stmts: []ast.Stmt{
				resource("vm", "a", prop("x", ast.Ref("b", "x"))),
				resource("vm", "b", prop("x", ast.Ref("c", "x"))),
				resource("vm", "c", prop("x", ast.Ref("a", "x"))),
			},
			cycle: []string{"c", "a", "b", "c"},
		},
		{
			name: "self reference",
			stmts: []ast.Stmt{
				resource("vm", "main", prop("x", ast.Ref("main", "y"))),
			},
			cycle: []string{"main", "main"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.stmts...)
			if !engine.IsCycle(err) {
				t.Fatalf("Expected cycle error, got: %v", err)
			}
			var evalErr *engine.EvalError
			if !errors.As(err, &evalErr) {
				t.Fatalf("Expected *EvalError, got %T", err)
			}
			if diff := cmp.Diff(tt.cycle, evalErr.Cycle); diff != "" {
				t.Errorf("Cycle mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_GlobalUniqueness(t *testing.T) {
	t.Run("duplicate resource", func(t *testing.T) {
		_, err := run(t,
			resource("vm", "main", prop("size", num(1))),
			resource("db", "main", prop("size", num(2))),
		)
		if !engine.IsDeclarationExists(err) {
			t.Fatalf("Expected DeclarationExists, got: %v", err)
		}
	})

	t.Run("duplicate loop key", func(t *testing.T) {
		_, err := run(t, &ast.ForStmt{
			ValVar: "env",
			Coll:   list(str("dup"), str("dup")),
			Body:   []ast.Stmt{resource("vm", "main", prop("name", ast.Name("env")))},
		})
		if !engine.IsDeclarationExists(err) {
			t.Fatalf("Expected DeclarationExists, got: %v", err)
		}
	})

	t.Run("imported duplicate", func(t *testing.T) {
		_, err := run(t,
			resource("vm", "main"),
			&ast.ImportStmt{Path: "./other.cairn", Program: &ast.Program{
				File:  "other.cairn",
				Stmts: []ast.Stmt{resource("vm", "main")},
			}},
		)
		if !engine.IsDeclarationExists(err) {
			t.Fatalf("Expected DeclarationExists, got: %v", err)
		}
	})
}

func TestRun_IndexedCollections(t *testing.T) {
	res := mustRun(t,
		resource("probe", "reader", prop("name", member(index(ast.Name("main"), str("prod")), "name"))),
		&ast.ForStmt{
			ValVar: "env",
			Coll:   list(str("prod"), str("test")),
			Body:   []ast.Stmt{resource("vm", "main", prop("name", ast.Name("env")))},
		},
	)

	want := []string{"reader", `main["prod"]`, `main["test"]`}
	if diff := cmp.Diff(want, res.Entities.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	if _, ok := res.Entity("main"); ok {
		t.Error("Expected no entity registered under the bare name")
	}

	assertValue(t, mustEntity(t, res, `main["test"]`), "name", value.String("test"))
	assertValue(t, mustEntity(t, res, "reader"), "name", value.String("prod"))
}

func TestRun_LoopKeyForms(t *testing.T) {
	res := mustRun(t,
		&ast.ForStmt{
			KeyVar: "i",
			ValVar: "size",
			Coll:   list(num(1), num(2)),
			Body:   []ast.Stmt{resource("vm", "indexed", prop("size", ast.Name("size")), prop("i", ast.Name("i")))},
		},
		&ast.ForStmt{
			ValVar: "n",
			Coll:   list(num(1.5), ast.Lit(value.Bool(true))),
			Body:   []ast.Stmt{resource("vm", "literal", prop("n", ast.Name("n")))},
		},
		&ast.ForStmt{
			KeyVar: "k",
			ValVar: "v",
			Coll:   ast.Lit(value.Map{"b": value.Number(2), "a": value.Number(1)}),
			Body:   []ast.Stmt{resource("vm", "keyed", prop("v", ast.Name("v")))},
		},
	)

	want := []string{
		"indexed[0]", "indexed[1]",
		"literal[1.5]", "literal[true]",
		`keyed["a"]`, `keyed["b"]`,
	}
	if diff := cmp.Diff(want, res.Entities.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	assertValue(t, mustEntity(t, res, "indexed[1]"), "i", value.Number(1))
	assertValue(t, mustEntity(t, res, `keyed["b"]`), "v", value.Number(2))
}

func TestRun_LoopAliasesWithinIteration(t *testing.T) {
	res := mustRun(t, &ast.ForStmt{
		ValVar: "env",
		Coll:   list(str("prod")),
		Body: []ast.Stmt{
			resource("dns", "record", prop("target", ast.Ref("server", "name"))),
			resource("vm", "server", prop("name", ast.Name("env"))),
		},
	})

	assertValue(t, mustEntity(t, res, `record["prod"]`), "target", value.String("prod"))
}

func TestRun_LoopOverPendingCollection(t *testing.T) {
	_, err := run(t,
		&ast.ForStmt{
			ValVar: "env",
			Coll:   ast.Ref("config", "envs"),
			Body:   []ast.Stmt{resource("vm", "main")},
		},
		resource("cfg", "config", prop("envs", list(str("prod")))),
	)
	if engine.KindOf(err) != engine.ErrorKindEvaluation {
		t.Fatalf("Expected evaluation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "not evaluated yet") {
		t.Errorf("Expected message about unevaluated collection, got: %v", err)
	}
}

func TestRun_IdempotentReevaluation(t *testing.T) {
	stmts := []ast.Stmt{
		resource("vm", "sum", prop("total", binary(ast.OpAdd, ast.Ref("a", "v"), ast.Ref("b", "v")))),
		resource("vm", "a", prop("v", num(2))),
		resource("vm", "b", prop("v", num(3))),
	}

	first := mustRun(t, stmts...)
	second := mustRun(t, stmts...)

	sum := mustEntity(t, first, "sum")
	assertValue(t, sum, "total", value.Number(5))
	if sum.Passes != 3 {
		t.Errorf("Expected 3 passes, got %d", sum.Passes)
	}
	if diff := cmp.Diff(first.Entities.Keys(), second.Entities.Keys()); diff != "" {
		t.Errorf("Key order differs between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Finalized.Levels, second.Finalized.Levels); diff != "" {
		t.Errorf("Levels differ between runs (-first +second):\n%s", diff)
	}
}

func TestRun_PendingSiblingsCollectedInOnePass(t *testing.T) {
	in := New(Options{Logger: zerolog.Nop()})
	in.ctx = context.Background()
	f := frame{scope: in.root}

	decl := resource("vm", "sum", prop("total", binary(ast.OpAdd, ast.Ref("a", "v"), ast.Ref("b", "v"))))
	if err := in.declareResource(f, decl); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	sum := in.entities.MustGet("sum")
	if sum.State != engine.StateBlocked {
		t.Fatalf("Expected blocked, got %s", sum.State)
	}
	if diff := cmp.Diff([]string{"a", "b"}, sum.PendingTargets()); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if sum.Unresolved != 2 {
		t.Errorf("Expected 2 unresolved, got %d", sum.Unresolved)
	}
	for _, name := range []string{"a", "b"} {
		if got := in.registry.Waiting(name); len(got) != 1 || got[0] != sum {
			t.Errorf("Expected sum waiting on %s, got %v", name, got)
		}
	}
}

func TestRun_TopologicalConsistency(t *testing.T) {
	res := mustRun(t,
		resource("vm", "d", prop("x", binary(ast.OpAdd, ast.Ref("b", "x"), ast.Ref("c", "x")))),
		resource("vm", "b", prop("x", ast.Ref("a", "x"))),
		resource("vm", "c", prop("x", ast.Ref("a", "x"))),
		resource("vm", "a", prop("x", num(1))),
		&ast.OutputDecl{Name: "result", Value: ast.Ref("d", "x")},
	)

	edges := res.Graph.AllEdges()
	if len(edges) == 0 {
		t.Fatal("Expected recorded edges")
	}
	for _, e := range edges {
		if res.Finalized.Position(e.To) >= res.Finalized.Position(e.From) {
			t.Errorf("Expected %s before %s", e.To, e.From)
		}
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}, {"result"}}
	if diff := cmp.Diff(want, res.Finalized.Levels); diff != "" {
		t.Errorf("Levels mismatch (-want +got):\n%s", diff)
	}

	out, ok := res.Output("result")
	if !ok {
		t.Fatal("Expected output result")
	}
	if !value.Equal(out.Value, value.Number(2)) {
		t.Errorf("Expected 2, got %s", out.Value)
	}
}

func TestRun_UndeclaredReference(t *testing.T) {
	_, err := run(t,
		resource("vm", "main", prop("size", num(1))),
		resource("vm", "second", prop("size", ast.Ref("mian", "size"))),
	)
	if !engine.IsNotFound(err) {
		t.Fatalf("Expected NotFound, got: %v", err)
	}
	if !strings.Contains(err.Error(), `did you mean "main"`) {
		t.Errorf("Expected suggestion in message, got: %v", err)
	}
}

func TestRun_IndexedReferenceOutOfRange(t *testing.T) {
	_, err := run(t,
		&ast.EntityDecl{Kind: ast.DeclResource, Type: "vm", Name: "web", Count: num(2)},
		resource("probe", "reader", prop("x", member(index(ast.Name("web"), num(5)), "id"))),
	)
	if !engine.IsNotFound(err) {
		t.Fatalf("Expected NotFound, got: %v", err)
	}
	if !strings.Contains(err.Error(), "web[5]") {
		t.Errorf("Expected message naming web[5], got: %v", err)
	}
}

func TestRun_BareCollectionReference(t *testing.T) {
	_, err := run(t,
		&ast.EntityDecl{Kind: ast.DeclResource, Type: "vm", Name: "web", Count: num(2)},
		resource("probe", "reader", prop("x", ast.Ref("web", "id"))),
	)
	if engine.KindOf(err) != engine.ErrorKindEvaluation {
		t.Fatalf("Expected evaluation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "indexed collection") {
		t.Errorf("Expected collection hint, got: %v", err)
	}
}

func TestRun_Count(t *testing.T) {
	res := mustRun(t,
		&ast.EntityDecl{
			Kind: ast.DeclResource, Type: "vm", Name: "web", Count: num(2),
			Properties: []ast.Property{prop("slot", ast.Ref("count", "index"))},
		},
		resource("lb", "front", prop("first", member(index(ast.Name("web"), num(1)), "slot"))),
	)

	if diff := cmp.Diff([]string{"web[0]", "web[1]", "front"}, res.Entities.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	assertValue(t, mustEntity(t, res, "front"), "first", value.Number(1))
}

func TestRun_DeferredVariable(t *testing.T) {
	res := mustRun(t,
		&ast.VarDecl{Name: "doubled", Value: binary(ast.OpMul, ast.Ref("main", "n"), num(2))},
		resource("vm", "second", prop("n", ast.Name("doubled"))),
		resource("vm", "main", prop("n", num(21))),
	)

	assertValue(t, mustEntity(t, res, "second"), "n", value.Number(42))
	if diff := cmp.Diff([]string{"main"}, res.Graph.Edges("second")); diff != "" {
		t.Errorf("Edges mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SelfReferentialVariable(t *testing.T) {
	_, err := run(t,
		&ast.VarDecl{Name: "x", Value: binary(ast.OpAdd, ast.Name("x"), num(1))},
		resource("vm", "main", prop("n", ast.Name("x"))),
	)
	if !engine.IsCycle(err) {
		t.Fatalf("Expected cycle error, got: %v", err)
	}
}

func TestRun_PropertiesReadEarlierProperties(t *testing.T) {
	res := mustRun(t,
		resource("vm", "main",
			prop("base", num(10)),
			prop("double", binary(ast.OpMul, ast.Name("base"), num(2))),
		),
	)
	assertValue(t, mustEntity(t, res, "main"), "double", value.Number(20))
}

func TestRun_DependsOn(t *testing.T) {
	t.Run("explicit ordering", func(t *testing.T) {
		decl := resource("vm", "app", prop("name", str("app")))
		decl.DependsOn = []ast.Expr{ast.Name("db")}
		res := mustRun(t, decl, resource("db", "db", prop("name", str("db"))))

		app := mustEntity(t, res, "app")
		if app.Passes != 2 {
			t.Errorf("Expected app to wait for db, got %d passes", app.Passes)
		}
		if res.Finalized.Position("db") > res.Finalized.Position("app") {
			t.Error("Expected db before app")
		}
	})

	t.Run("explicit provenance", func(t *testing.T) {
		in := New(Options{Logger: zerolog.Nop()})
		in.ctx = context.Background()
		decl := resource("vm", "app")
		decl.DependsOn = []ast.Expr{ast.Name("db")}
		if err := in.declareResource(frame{scope: in.root}, decl); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		app := in.entities.MustGet("app")
		if app.Pending["db"] != engine.ProvenanceExplicit {
			t.Errorf("Expected explicit provenance, got %q", app.Pending["db"])
		}
	})

	t.Run("value rejected", func(t *testing.T) {
		decl := resource("vm", "app")
		decl.DependsOn = []ast.Expr{str("db")}
		_, err := run(t, decl)
		if engine.KindOf(err) != engine.ErrorKindEvaluation {
			t.Fatalf("Expected evaluation error, got: %v", err)
		}
	})
}

func TestRun_Schemas(t *testing.T) {
	schema := &ast.SchemaDecl{Name: "vm", Properties: []ast.SchemaProperty{
		{Name: "size", Type: "number", Default: num(1)},
		{Name: "name", Type: "string"},
		{Name: "id", Type: "string", Cloud: true},
		{Name: "password", Type: "string", Sensitive: true},
	}}

	t.Run("defaults and cloud values", func(t *testing.T) {
		res := mustRun(t,
			schema,
			resource("vm", "main", prop("name", str("web")), prop("password", str("hunter2"))),
			resource("probe", "reader", prop("id", ast.Ref("main", "id"))),
		)
		main := mustEntity(t, res, "main")
		assertValue(t, main, "size", value.Number(1))
		assertValue(t, mustEntity(t, res, "reader"), "id", value.Unknown{})

		masked := Masked(main)
		if masked["password"] != value.String(SensitiveMarker) {
			t.Errorf("Expected password to be masked, got %s", masked["password"])
		}
		if masked["name"] != value.String("web") {
			t.Errorf("Expected name to be visible, got %s", masked["name"])
		}
	})

	t.Run("cloud assignment", func(t *testing.T) {
		_, err := run(t, schema, resource("vm", "main", prop("id", str("i-123"))))
		if !engine.IsInvalidInit(err) {
			t.Fatalf("Expected InvalidInit, got: %v", err)
		}
	})

	t.Run("unknown property", func(t *testing.T) {
		_, err := run(t, schema, resource("vm", "main", prop("nmae", str("web"))))
		if !engine.IsInvalidInit(err) {
			t.Fatalf("Expected InvalidInit, got: %v", err)
		}
		if !strings.Contains(err.Error(), `did you mean "name"`) {
			t.Errorf("Expected suggestion, got: %v", err)
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := run(t, schema, resource("vm", "main", prop("size", str("large"))))
		if !engine.IsTypeMismatch(err) {
			t.Fatalf("Expected TypeMismatch, got: %v", err)
		}
	})

	t.Run("schema inside loop", func(t *testing.T) {
		_, err := run(t, &ast.ForStmt{ValVar: "x", Coll: list(num(1)), Body: []ast.Stmt{schema}})
		if !engine.IsInvalidInit(err) {
			t.Fatalf("Expected InvalidInit, got: %v", err)
		}
	})
}

func TestRun_ProviderSchemas(t *testing.T) {
	provided := engine.NewTypeSchema("bucket", "test")
	_ = provided.Add(&engine.PropertySchema{Name: "arn", Type: engine.TypeString, Cloud: true})
	_ = provided.Add(&engine.PropertySchema{Name: "name", Type: engine.TypeString})

	_, err := runWith(t, Options{Schemas: engine.SchemaSet{"bucket": provided}},
		resource("bucket", "logs", prop("arn", str("arn:aws:s3:::logs"))),
	)
	if !engine.IsInvalidInit(err) {
		t.Fatalf("Expected InvalidInit, got: %v", err)
	}
}

func TestRun_Inputs(t *testing.T) {
	decl := &ast.InputDecl{Name: "replicas", Type: "number"}

	t.Run("required", func(t *testing.T) {
		_, err := run(t, decl)
		if !engine.IsInvalidInit(err) {
			t.Fatalf("Expected InvalidInit, got: %v", err)
		}
	})

	t.Run("supplied string is coerced", func(t *testing.T) {
		res, err := runWith(t, Options{Inputs: map[string]value.Value{"replicas": value.String("3")}},
			decl,
			resource("vm", "main", prop("replicas", ast.Name("replicas"))),
		)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		assertValue(t, mustEntity(t, res, "main"), "replicas", value.Number(3))
		if diff := cmp.Diff(map[string]value.Value{"replicas": value.Number(3)}, res.Inputs); diff != "" {
			t.Errorf("Inputs mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := runWith(t, Options{Inputs: map[string]value.Value{"replicas": value.String("many")}}, decl)
		if !engine.IsTypeMismatch(err) {
			t.Fatalf("Expected TypeMismatch, got: %v", err)
		}
	})
}

func TestRun_Outputs(t *testing.T) {
	res := mustRun(t,
		&ast.OutputDecl{Name: "endpoint", Value: ast.Ref("main", "host"), Description: "public host"},
		&ast.OutputDecl{Name: "token", Value: str("s3cr3t"), Sensitive: true},
		&ast.OutputDecl{Name: "whole", Value: ast.Name("main")},
		resource("vm", "main", prop("host", str("example.com"))),
	)

	names := make([]string, 0, len(res.Outputs))
	for _, o := range res.Outputs {
		names = append(names, o.Name)
	}
	if diff := cmp.Diff([]string{"endpoint", "token", "whole"}, names); diff != "" {
		t.Errorf("Output order mismatch (-want +got):\n%s", diff)
	}

	endpoint, _ := res.Output("endpoint")
	if endpoint.Value != value.String("example.com") || endpoint.Description != "public host" {
		t.Errorf("Expected example.com with description, got %+v", endpoint)
	}
	token, _ := res.Output("token")
	if token.Display() != value.String(SensitiveMarker) {
		t.Errorf("Expected masked token, got %s", token.Display())
	}
	whole, _ := res.Output("whole")
	if diff := cmp.Diff(value.Map{"host": value.String("example.com")}, whole.Value); diff != "" {
		t.Errorf("Whole-entity output mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_RequiredVersion(t *testing.T) {
	settings := &ast.Settings{RequiredVersion: ">= 2.0"}

	if _, err := runWith(t, Options{Version: "1.4.0"}, settings); err == nil {
		t.Fatal("Expected version constraint to fail")
	}
	if _, err := runWith(t, Options{Version: "2.1.0"}, settings); err != nil {
		t.Errorf("Expected version constraint to pass, got: %v", err)
	}
	if _, err := runWith(t, Options{Version: "dev"}, settings); err != nil {
		t.Errorf("Expected unversioned build to skip the check, got: %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{Logger: zerolog.Nop()}).Run(ctx, program(resource("vm", "main")))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
}

func TestRun_IsolatedState(t *testing.T) {
	stmts := []ast.Stmt{resource("vm", "main")}
	if _, err := run(t, stmts...); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := run(t, stmts...); err != nil {
		t.Errorf("Expected a second interpreter to start clean, got: %v", err)
	}
}
