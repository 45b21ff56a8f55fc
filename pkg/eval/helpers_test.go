package eval

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

func num(n float64) ast.Expr { return ast.Lit(value.Number(n)) }

func str(s string) ast.Expr { return ast.Lit(value.String(s)) }

func prop(name string, e ast.Expr) ast.Property {
	return ast.Property{Name: name, Value: e}
}

func resource(typ, name string, props ...ast.Property) *ast.EntityDecl {
	return &ast.EntityDecl{Kind: ast.DeclResource, Type: typ, Name: name, Properties: props}
}

func index(base ast.Expr, key ast.Expr) ast.Expr {
	return &ast.Index{Base: base, Key: key}
}

func member(base ast.Expr, name string) ast.Expr {
	return &ast.Member{Base: base, Name: name}
}

func binary(op ast.Op, l, r ast.Expr) ast.Expr {
	return &ast.Binary{Op: op, Left: l, Right: r}
}

func list(elems ...ast.Expr) ast.Expr {
	return &ast.ListExpr{Elems: elems}
}

func program(stmts ...ast.Stmt) *ast.Program {
	return &ast.Program{File: "main.cairn", Stmts: stmts}
}

func run(t *testing.T, stmts ...ast.Stmt) (*Result, error) {
	t.Helper()
	return runWith(t, Options{}, stmts...)
}

func runWith(t *testing.T, opts Options, stmts ...ast.Stmt) (*Result, error) {
	t.Helper()
	opts.Logger = zerolog.Nop()
	return New(opts).Run(context.Background(), program(stmts...))
}

func mustRun(t *testing.T, stmts ...ast.Stmt) *Result {
	t.Helper()
	res, err := run(t, stmts...)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return res
}

func mustEntity(t *testing.T, res *Result, key string) *engine.Entity {
	t.Helper()
	ent, ok := res.Entity(key)
	if !ok {
		t.Fatalf("Expected entity %s to be registered, got keys %v", key, res.Entities.Keys())
	}
	return ent
}

func assertValue(t *testing.T, ent *engine.Entity, name string, want value.Value) {
	t.Helper()
	got, ok := ent.Property(name)
	if !ok {
		t.Fatalf("Expected %s.%s to be set", ent.Key, name)
	}
	if !value.Equal(got, want) {
		t.Errorf("Expected %s.%s = %s, got %s", ent.Key, name, value.Repr(want), value.Repr(got))
	}
}
