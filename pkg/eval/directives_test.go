package eval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

func withDirectives(decl *ast.EntityDecl, directives ...ast.Directive) *ast.EntityDecl {
	decl.Directives = directives
	return decl
}

func directive(name string, args ...ast.Property) ast.Directive {
	return ast.Directive{Name: name, Args: args}
}

func TestDirectives_Validators(t *testing.T) {
	tests := []struct {
		name      string
		directive ast.Directive
		wantErr   bool
	}{
		{"min_value ok", directive("min_value", prop("property", str("size")), prop("value", num(1))), false},
		{"min_value fails", directive("min_value", prop("property", str("size")), prop("value", num(10))), true},
		{"max_value ok", directive("max_value", prop("property", str("size")), prop("value", num(8))), false},
		{"max_value fails", directive("max_value", prop("property", str("size")), prop("value", num(2))), true},
		{"min_length ok", directive("min_length", prop("property", str("name")), prop("value", num(3))), false},
		{"max_length fails", directive("max_length", prop("property", str("name")), prop("value", num(3))), true},
		{"allowed ok", directive("allowed", prop("property", str("zone")), prop("values", list(str("a"), str("b")))), false},
		{"allowed fails", directive("allowed", prop("property", str("zone")), prop("values", list(str("c")))), true},
		{"non_empty ok", directive("non_empty", prop("property", str("name"))), false},
		{"non_empty fails", directive("non_empty", prop("property", str("tags"))), true},
		{"pattern ok", directive("pattern", prop("property", str("name")), prop("regex", str("^[a-z0-9-]+$"))), false},
		{"pattern fails", directive("pattern", prop("property", str("name")), prop("regex", str("^[0-9]+$"))), true},
		{"missing property", directive("non_empty", prop("property", str("nope"))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl := withDirectives(resource("vm", "main",
				prop("size", num(4)),
				prop("name", str("web-01x")),
				prop("zone", str("a")),
				prop("tags", list()),
			), tt.directive)
			_, err := run(t, decl)
			if tt.wantErr && err == nil {
				t.Fatal("Expected directive to fail")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestDirectives_Aggregated(t *testing.T) {
	decl := withDirectives(resource("vm", "main", prop("size", num(10)), prop("name", str("Bad Name"))),
		directive("max_value", prop("property", str("size")), prop("value", num(5))),
		directive("pattern", prop("property", str("name")), prop("regex", str("^[a-z]+$"))),
	)
	_, err := run(t, decl)
	if engine.KindOf(err) != engine.ErrorKindEvaluation {
		t.Fatalf("Expected evaluation error, got: %v", err)
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Expected aggregated errors, got %T", errors.Unwrap(err))
	}
	if len(merr.Errors) != 2 {
		t.Errorf("Expected 2 failures, got %d", len(merr.Errors))
	}
	for _, want := range []string{"max_value", "pattern"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %s in %q", want, err.Error())
		}
	}
}

func TestDirectives_SkipUnknownValues(t *testing.T) {
	schema := &ast.SchemaDecl{Name: "vm", Properties: []ast.SchemaProperty{
		{Name: "id", Type: "string", Cloud: true},
	}}
	decl := withDirectives(resource("vm", "main"),
		directive("pattern", prop("property", str("id")), prop("regex", str("^i-"))),
	)
	if _, err := run(t, schema, decl); err != nil {
		t.Errorf("Expected unknown values to pass validation, got: %v", err)
	}
}

func TestDirectives_Metadata(t *testing.T) {
	res := mustRun(t,
		withDirectives(resource("vm", "main", prop("password", str("x")), prop("name", str("web"))),
			directive("description", prop("text", str("primary host"))),
			directive("sensitive", prop("property", str("password"))),
			directive("existing"),
		),
		withDirectives(resource("vm", "vault", prop("key", str("k"))), directive("sensitive")),
	)

	main := mustEntity(t, res, "main")
	if main.Metadata["description"] != value.String("primary host") {
		t.Errorf("Expected description, got %v", main.Metadata["description"])
	}
	if main.Metadata["existing"] != value.Bool(true) {
		t.Errorf("Expected existing flag, got %v", main.Metadata["existing"])
	}
	masked := Masked(main)
	if masked["password"] != value.String(SensitiveMarker) || masked["name"] != value.String("web") {
		t.Errorf("Expected only password masked, got %v", masked)
	}
	if Masked(mustEntity(t, res, "vault"))["key"] != value.String(SensitiveMarker) {
		t.Error("Expected every property of vault masked")
	}
}

func TestDirectives_ArgumentsWaitForEntities(t *testing.T) {
	res := mustRun(t,
		withDirectives(resource("vm", "main", prop("size", num(4))),
			directive("max_value", prop("property", str("size")), prop("value", ast.Ref("limits", "max"))),
		),
		resource("cfg", "limits", prop("max", num(8))),
	)
	if mustEntity(t, res, "main").Passes != 2 {
		t.Error("Expected main to wait for limits")
	}
}

func TestDirectives_Unknown(t *testing.T) {
	_, err := run(t, withDirectives(resource("vm", "main"), directive("sensitve")))
	if engine.KindOf(err) != engine.ErrorKindEvaluation {
		t.Fatalf("Expected evaluation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), `did you mean "sensitive"`) {
		t.Errorf("Expected suggestion, got: %v", err)
	}
}

func TestDirectiveRegistry_Register(t *testing.T) {
	r := NewDirectiveRegistry()
	calls := 0
	custom := NewDirective("audited", func(_ context.Context, inv Invocation) error {
		calls++
		if inv.Entity.Key != "main" {
			t.Errorf("Expected main, got %s", inv.Entity.Key)
		}
		return nil
	})
	if err := r.Register(custom); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := r.Register(custom); !engine.IsDeclarationExists(err) {
		t.Errorf("Expected DeclarationExists, got: %v", err)
	}

	_, err := runWith(t, Options{Directives: r}, withDirectives(resource("vm", "main"), directive("audited")))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 invocation, got %d", calls)
	}
}
