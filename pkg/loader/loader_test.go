package loader

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/value"
)

var ignorePos = cmpopts.IgnoreTypes(ast.Pos{})

func memFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, src := range files {
		if err := afero.WriteFile(fs, name, []byte(src), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return fs
}

func lit(v value.Value) ast.Expr { return &ast.Literal{Value: v} }

func TestParse_Resource(t *testing.T) {
	src := `
size = 2

resource "vm" "web" {
  count      = size
  name       = "web-${count.index}"
  image      = "ubuntu"
  tags       = { env = "prod" }
  provider   = "aws"
  depends_on = [net]

  directive "max_value" {
    property = "size"
    value    = 8
  }
}
`
	prog, err := New(afero.NewMemMapFs()).Parse("main.cairn", []byte(src))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []ast.Stmt{
		&ast.VarDecl{Name: "size", Value: lit(value.Number(2))},
		&ast.EntityDecl{
			Kind: ast.DeclResource,
			Type: "vm",
			Name: "web",
			Properties: []ast.Property{
				{Name: "name", Value: &ast.Template{Parts: []ast.Expr{
					lit(value.String("web-")),
					&ast.Member{Base: ast.Name("count"), Name: "index"},
				}}},
				{Name: "image", Value: lit(value.String("ubuntu"))},
			},
			DependsOn: []ast.Expr{ast.Name("net")},
			Directives: []ast.Directive{{
				Name: "max_value",
				Args: []ast.Property{
					{Name: "property", Value: lit(value.String("size"))},
					{Name: "value", Value: lit(value.Number(8))},
				},
			}},
			Count:     ast.Name("size"),
			Providers: []string{"aws"},
			Tags: &ast.ObjectExpr{Items: []ast.ObjectItem{
				{Key: lit(value.String("env")), Value: lit(value.String("prod"))},
			}},
		},
	}
	if diff := cmp.Diff(want, prog.Stmts, ignorePos); diff != "" {
		t.Errorf("Statements mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Expressions(t *testing.T) {
	tests := []struct {
		src  string
		want ast.Expr
	}{
		{`x = a.b[0]`, &ast.Index{Base: ast.Ref("a", "b"), Key: lit(value.Number(0))}},
		{`x = a["k"].c`, &ast.Member{Base: &ast.Index{Base: ast.Name("a"), Key: lit(value.String("k"))}, Name: "c"}},
		{`x = a[i]`, &ast.Index{Base: ast.Name("a"), Key: ast.Name("i")}},
		{`x = (1 + 2) * 3`, &ast.Binary{Op: ast.OpMul,
			Left:  &ast.Binary{Op: ast.OpAdd, Left: lit(value.Number(1)), Right: lit(value.Number(2))},
			Right: lit(value.Number(3))}},
		{`x = !ok`, &ast.Unary{Op: ast.OpNot, X: ast.Name("ok")}},
		{`x = -n`, &ast.Unary{Op: ast.OpNeg, X: ast.Name("n")}},
		{`x = ok ? "a" : "b"`, &ast.Conditional{Cond: ast.Name("ok"), True: lit(value.String("a")), False: lit(value.String("b"))}},
		{`x = upper(name)`, &ast.Call{Name: "upper", Args: []ast.Expr{ast.Name("name")}}},
		{`x = max(list...)`, &ast.Call{Name: "max", Args: []ast.Expr{ast.Name("list")}, ExpandFinal: true}},
		{`x = "${name}"`, ast.Name("name")},
		{`x = null`, lit(value.Null{})},
		{`x = true`, lit(value.Bool(true))},
		{`x = [for v in xs : v if v > 1]`, &ast.ForExpr{ValVar: "v", Coll: ast.Name("xs"), ValExpr: ast.Name("v"),
			Cond: &ast.Binary{Op: ast.OpGt, Left: ast.Name("v"), Right: lit(value.Number(1))}}},
		{`x = {for k, v in m : v => k...}`, &ast.ForExpr{KeyVar: "k", ValVar: "v", Coll: ast.Name("m"),
			KeyExpr: ast.Name("v"), ValExpr: ast.Name("k"), Group: true}},
		{`x = { (key) = 1 }`, &ast.ObjectExpr{Items: []ast.ObjectItem{{Key: ast.Name("key"), Value: lit(value.Number(1))}}}},
		{`x = f(a)[0]`, &ast.Index{Base: &ast.Call{Name: "f", Args: []ast.Expr{ast.Name("a")}}, Key: lit(value.Number(0))}},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog, err := New(afero.NewMemMapFs()).Parse("main.cairn", []byte(tt.src))
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			got := prog.Stmts[0].(*ast.VarDecl).Value
			if diff := cmp.Diff(tt.want, got, ignorePos); diff != "" {
				t.Errorf("Expression mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Blocks(t *testing.T) {
	src := `
cairn {
  required_version = ">= 0.1"
}

input "env" {
  type        = "string"
  default     = "dev"
  description = "deployment environment"
}

schema "vm" {
  property "size" {
    type    = "number"
    default = 1
  }
  property "id" {
    type  = "string"
    cloud = true
  }
}

component "server" {
  input "size" {
    type = "number"
  }
  resource "vm" "inner" {
    size = size
  }
  output "id" {
    value = inner.id
  }
}

component "server" "api" {
  size = 2
}

for "k" "v" {
  in = { a = 1 }
  resource "vm" "node" {
    size = v
  }
}

output "api" {
  value     = api.id
  sensitive = true
}
`
	prog, err := New(afero.NewMemMapFs()).Parse("main.cairn", []byte(src))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(prog.Stmts) != 7 {
		t.Fatalf("Expected 7 statements, got %d", len(prog.Stmts))
	}

	if s := prog.Stmts[0].(*ast.Settings); s.RequiredVersion != ">= 0.1" {
		t.Errorf("Expected required_version, got %q", s.RequiredVersion)
	}
	in := prog.Stmts[1].(*ast.InputDecl)
	if in.Type != "string" || in.Description != "deployment environment" || in.Default == nil {
		t.Errorf("Unexpected input: %+v", in)
	}

	schema := prog.Stmts[2].(*ast.SchemaDecl)
	wantSchema := []ast.SchemaProperty{
		{Name: "size", Type: "number", Default: lit(value.Number(1))},
		{Name: "id", Type: "string", Cloud: true},
	}
	if diff := cmp.Diff(wantSchema, schema.Properties, ignorePos); diff != "" {
		t.Errorf("Schema mismatch (-want +got):\n%s", diff)
	}

	def := prog.Stmts[3].(*ast.ComponentDef)
	if len(def.Inputs) != 1 || def.Inputs[0].Name != "size" || def.Inputs[0].Default != nil {
		t.Errorf("Unexpected component inputs: %+v", def.Inputs)
	}
	if len(def.Body) != 2 {
		t.Errorf("Expected 2 body statements, got %d", len(def.Body))
	}

	inst := prog.Stmts[4].(*ast.EntityDecl)
	if inst.Kind != ast.DeclComponent || inst.Type != "server" || inst.Name != "api" {
		t.Errorf("Unexpected instance: %+v", inst)
	}

	loop := prog.Stmts[5].(*ast.ForStmt)
	if loop.KeyVar != "k" || loop.ValVar != "v" || len(loop.Body) != 1 {
		t.Errorf("Unexpected loop: %+v", loop)
	}

	if out := prog.Stmts[6].(*ast.OutputDecl); !out.Sensitive {
		t.Error("Expected sensitive output")
	}
}

func TestParse_Positions(t *testing.T) {
	prog, err := New(afero.NewMemMapFs()).Parse("main.cairn", []byte("\nresource \"vm\" \"a\" {\n  size = b.size\n}\n"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	decl := prog.Stmts[0].(*ast.EntityDecl)
	if got := decl.At.String(); got != "main.cairn:2:1" {
		t.Errorf("Expected main.cairn:2:1, got %s", got)
	}
	ref := decl.Properties[0].Value.(*ast.Member)
	if got := ref.Base.Pos().String(); got != "main.cairn:3:10" {
		t.Errorf("Expected main.cairn:3:10, got %s", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"syntax", `resource "vm" {`, "failed to parse"},
		{"splat", `x = a[*].id`, "Splat expressions are not supported"},
		{"unknown block", `widget "x" {}`, "Unsupported block type"},
		{"resource labels", `resource "vm" {}`, "Wrong number of labels"},
		{"nested block", "resource \"vm\" \"a\" {\n  disk {}\n}", "Only directive blocks"},
		{"schema in component", "component \"c\" {\n  schema \"vm\" {}\n}", "cannot appear inside a component definition"},
		{"import in loop", "for \"v\" {\n  in = []\n  import \"x.cairn\" {}\n}", "cannot appear inside a for block"},
		{"loop without in", "for \"v\" {\n}", "requires an in argument"},
		{"output without value", `output "x" {}`, "requires a value argument"},
		{"dynamic type", "input \"x\" {\n  type = t\n}", "cannot reference other values"},
		{"bad sensitive", "output \"x\" {\n  value = 1\n  sensitive = \"yes\"\n}", "must be a bool"},
		{"unexpected output argument", "output \"x\" {\n  value = 1\n  colour = 2\n}", "Unsupported argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(afero.NewMemMapFs()).Parse("main.cairn", []byte(tt.src))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("Expected %q in %q", tt.msg, err.Error())
			}
		})
	}
}

func TestLoad_Imports(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/project/main.cairn":       "import \"./lib/net.cairn\" {}\nresource \"vm\" \"web\" {\n  net = net.id\n}\n",
		"/project/lib/net.cairn":    "import \"shared.cairn\" {}\nresource \"network\" \"net\" {\n  id = 1\n}\n",
		"/project/lib/shared.cairn": "region = \"eu\"\n",
	})
	l := New(fs)
	prog, err := l.Load("/project/main.cairn")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	imp := prog.Stmts[0].(*ast.ImportStmt)
	if imp.Program == nil || imp.Program.File != "/project/lib/net.cairn" {
		t.Fatalf("Expected resolved import, got %+v", imp.Program)
	}
	nested := imp.Program.Stmts[0].(*ast.ImportStmt)
	if nested.Program == nil || nested.Program.File != "/project/lib/shared.cairn" {
		t.Errorf("Expected nested import relative to lib/, got %+v", nested.Program)
	}

	want := []string{"/project/main.cairn", "/project/lib/net.cairn", "/project/lib/shared.cairn"}
	if diff := cmp.Diff(want, l.Files()); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ImportCycle(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/p/a.cairn": "import \"b.cairn\" {}\n",
		"/p/b.cairn": "import \"a.cairn\" {}\n",
	})
	_, err := New(fs).Load("/p/a.cairn")
	if err == nil {
		t.Fatal("Expected an import cycle error")
	}
	if !strings.Contains(err.Error(), "import cycle: /p/a.cairn -> /p/b.cairn -> /p/a.cairn") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	fs := memFS(t, map[string]string{"/p/a.cairn": "import \"missing.cairn\" {}\n"})
	_, err := New(fs).Load("/p/a.cairn")
	if err == nil || !strings.Contains(err.Error(), "failed to read /p/missing.cairn") {
		t.Errorf("Expected read error, got: %v", err)
	}
}

func TestLoad_Evaluates(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/project/main.cairn": `
cairn {
  required_version = ">= 0.0.1"
}

input "env" {
  type    = "string"
  default = "dev"
}

output "first" {
  value = web[0].name
}

resource "vm" "web" {
  count = 2
  name  = "${env}-${count.index}"
}
`,
	})
	prog, err := New(fs).Load("/project/main.cairn")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res, err := eval.New(eval.Options{Logger: zerolog.Nop(), Version: "0.1.0"}).Run(context.Background(), prog)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := res.Entity("web[1]"); !ok {
		t.Errorf("Expected web[1], got keys %v", res.Entities.Keys())
	}
	first, ok := res.Output("first")
	if !ok {
		t.Fatal("Expected output first")
	}
	if first.Value != value.String("dev-0") {
		t.Errorf("Expected dev-0, got %s", first.Value)
	}
}

func TestLoad_SharedImportWalkedOnce(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/p/main.cairn":   "import \"a.cairn\" {}\nimport \"b.cairn\" {}\n",
		"/p/a.cairn":      "import \"common.cairn\" {}\nresource \"vm\" \"web\" {\n  net = net.cidr\n}\n",
		"/p/b.cairn":      "import \"common.cairn\" {}\nresource \"vm\" \"db\" {\n  net    = net.cidr\n  region = region\n}\n",
		"/p/common.cairn": "region = \"eu\"\nresource \"network\" \"net\" {\n  cidr = \"10.0.0.0/16\"\n}\n",
	})
	prog, err := New(fs).Load("/p/main.cairn")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res, err := eval.New(eval.Options{Logger: zerolog.Nop()}).Run(context.Background(), prog)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if diff := cmp.Diff([]string{"net", "web", "db"}, res.Entities.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	want := []string{"/p/a.cairn", "/p/common.cairn", "/p/b.cairn"}
	if diff := cmp.Diff(want, res.Imports); diff != "" {
		t.Errorf("Imports mismatch (-want +got):\n%s", diff)
	}
	db, _ := res.Entity("db")
	if v, _ := db.Property("region"); v != value.String("eu") {
		t.Errorf("Expected region eu, got %v", v)
	}
}

func TestGlob(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/cfg/schemas/vm.cue":       "",
		"/cfg/schemas/net/net.cue":  "",
		"/cfg/schemas/readme.md":    "",
		"/cfg/policies/naming.rego": "",
	})

	got, err := Glob(fs, "/cfg/schemas/**/*.cue", "/cfg/policies/naming.rego", "/cfg/schemas/vm.cue")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{"/cfg/policies/naming.rego", "/cfg/schemas/net/net.cue", "/cfg/schemas/vm.cue"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Glob mismatch (-want +got):\n%s", diff)
	}

	if _, err := Glob(fs, "/cfg/missing.rego"); err == nil {
		t.Error("Expected an error for a missing literal path")
	}
	if _, err := Glob(fs, "/cfg/[.rego"); err == nil {
		t.Error("Expected an error for an invalid pattern")
	}
}

func TestIsProgram(t *testing.T) {
	for path, want := range map[string]bool{"a.cairn": true, "b.hcl": true, "c.tf": false} {
		if IsProgram(path) != want {
			t.Errorf("IsProgram(%s): expected %v", path, want)
		}
	}
}
