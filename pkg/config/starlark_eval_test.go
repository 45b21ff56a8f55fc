package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/value"
)

const limitScript = `
def validate(entity, args):
    size = entity.properties.get("size", 0)
    if size > args["limit"]:
        return "size %d exceeds %d" % (size, args["limit"])
`

func invocation(values map[string]value.Value, args map[string]value.Value) eval.Invocation {
	return eval.Invocation{
		Entity: &engine.Entity{Key: "web", Type: "vm", Kind: engine.KindResource, Values: values},
		Name:   "limit",
		Args:   args,
	}
}

func TestScriptDirective_Verdicts(t *testing.T) {
	tests := []struct {
		name   string
		script string
		errMsg string
	}{
		{"none accepts", "def validate(entity, args):\n    pass\n", ""},
		{"true accepts", "def validate(entity, args):\n    return True\n", ""},
		{"empty list accepts", "def validate(entity, args):\n    return []\n", ""},
		{"false rejects", "def validate(entity, args):\n    return False\n", "rejected by check"},
		{"string rejects", "def validate(entity, args):\n    return \"too big\"\n", "too big"},
		{"list rejects", "def validate(entity, args):\n    return [\"first\", \"second\"]\n", "second"},
		{"fail rejects", "def validate(entity, args):\n    fail(\"bad \" + entity.key)\n", "bad web"},
		{"bad return", "def validate(entity, args):\n    return 3\n", "must return None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewScriptDirective("check", "check.star", []byte(tt.script), time.Second)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			err = d.Invoke(context.Background(), invocation(nil, nil))
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestScriptDirective_SeesEntity(t *testing.T) {
	script := `
def validate(entity, args):
    errs = []
    if entity.type != "vm" or entity.kind != "resource":
        errs.append("wrong entity")
    if entity.properties["name"] != "web-1":
        errs.append("wrong name")
    if entity.properties["ports"] != [80, 443]:
        errs.append("wrong ports")
    if entity.unknown != ["id"]:
        errs.append("wrong unknown list")
    if args["ratio"] != 0.5:
        errs.append("wrong ratio")
    return errs
`
	d, err := NewScriptDirective("check", "check.star", []byte(script), time.Second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	inv := invocation(
		map[string]value.Value{
			"name":  value.String("web-1"),
			"ports": value.List{value.Number(80), value.Number(443)},
			"id":    value.Unknown{},
		},
		map[string]value.Value{"ratio": value.Number(0.5)},
	)
	if err := d.Invoke(context.Background(), inv); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestScriptDirective_Timeout(t *testing.T) {
	script := `
def validate(entity, args):
    total = 0
    for i in range(100000000):
        total += i
`
	d, err := NewScriptDirective("slow", "slow.star", []byte(script), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	start := time.Now()
	err = d.Invoke(context.Background(), invocation(nil, nil))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !strings.Contains(err.Error(), "deadline exceeded") {
		t.Errorf("Expected deadline error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected the script to be cancelled promptly, took %v", elapsed)
	}
}

func TestNewScriptDirective_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		errMsg string
	}{
		{"syntax", "def validate(:\n", "failed to load validator"},
		{"no function", "limit = 3\n", "does not define a validate function"},
		{"not callable", "validate = 3\n", "does not define a validate function"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScriptDirective("check", "check.star", []byte(tt.script), 0)
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestLoadScriptDirectives_RunInEvaluation(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/v/limit.star", []byte(limitScript), 0o644)

	handlers, err := LoadScriptDirectives(fs, map[string]string{"limit": "/v/limit.star"}, 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	registry := eval.NewDirectiveRegistry()
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	program := func(size float64) *ast.Program {
		return &ast.Program{File: "main.cairn", Stmts: []ast.Stmt{
			&ast.EntityDecl{
				Kind: ast.DeclResource, Type: "vm", Name: "web",
				Properties: []ast.Property{{Name: "size", Value: ast.Lit(value.Number(size))}},
				Directives: []ast.Directive{{Name: "limit", Args: []ast.Property{
					{Name: "limit", Value: ast.Lit(value.Number(8))},
				}}},
			},
		}}
	}
	opts := eval.Options{Logger: zerolog.Nop(), Directives: registry}

	if _, err := eval.New(opts).Run(context.Background(), program(4)); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	_, err = eval.New(opts).Run(context.Background(), program(16))
	if err == nil || !strings.Contains(err.Error(), "size 16 exceeds 8") {
		t.Errorf("Expected validator failure, got: %v", err)
	}

	if _, err := LoadScriptDirectives(fs, map[string]string{"gone": "/v/missing.star"}, 0); err == nil {
		t.Error("Expected an error for a missing script")
	}
}
