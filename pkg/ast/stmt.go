package ast

// Stmt is a statement node.
type Stmt interface {
	Pos() Pos
	stmt()
}

// Program is one parsed source file.
type Program struct {
	File  string
	Stmts []Stmt
}

// VarDecl binds a variable in the current scope.
type VarDecl struct {
	Name  string
	Value Expr
	At    Pos
}

// InputDecl declares a program or component input. A nil Default makes
// the input required.
type InputDecl struct {
	Name        string
	Type        string
	Default     Expr
	Description string
	At          Pos
}

// OutputDecl declares an output entity.
type OutputDecl struct {
	Name        string
	Value       Expr
	Sensitive   bool
	Description string
	At          Pos
}

// SchemaProperty is one property of a declared type schema.
type SchemaProperty struct {
	Name      string
	Type      string
	Default   Expr
	Cloud     bool
	Sensitive bool
	At        Pos
}

// SchemaDecl declares the property schema of a resource type.
type SchemaDecl struct {
	Name       string
	Properties []SchemaProperty
	At         Pos
}

// Property is one property statement: an assignable name and its expression.
type Property struct {
	Name  string
	Value Expr
	At    Pos
}

// Directive is an attached directive invocation with named arguments.
type Directive struct {
	Name string
	Args []Property
	At   Pos
}

// DeclKind distinguishes entity declarations.
type DeclKind string

const (
	DeclResource  DeclKind = "resource"
	DeclComponent DeclKind = "component"
)

// EntityDecl declares a resource or a component instance.
type EntityDecl struct {
	Kind       DeclKind
	Type       string
	Name       string
	Properties []Property
	DependsOn  []Expr
	Directives []Directive
	Count      Expr
	Providers  []string
	Tags       Expr
	At         Pos
}

// ComponentDef declares a component type. It has no instance of its own.
type ComponentDef struct {
	Type   string
	Inputs []InputDecl
	Body   []Stmt
	At     Pos
}

// ForStmt repeats Body for each element of Coll. KeyVar may be empty.
type ForStmt struct {
	KeyVar string
	ValVar string
	Coll   Expr
	Body   []Stmt
	At     Pos
}

// ImportStmt textually includes another program.
type ImportStmt struct {
	Path    string
	Program *Program
	At      Pos
}

// Settings carries program-level settings.
type Settings struct {
	RequiredVersion string
	At              Pos
}

func (s *VarDecl) Pos() Pos      { return s.At }
func (s *InputDecl) Pos() Pos    { return s.At }
func (s *OutputDecl) Pos() Pos   { return s.At }
func (s *SchemaDecl) Pos() Pos   { return s.At }
func (s *EntityDecl) Pos() Pos   { return s.At }
func (s *ComponentDef) Pos() Pos { return s.At }
func (s *ForStmt) Pos() Pos      { return s.At }
func (s *ImportStmt) Pos() Pos   { return s.At }
func (s *Settings) Pos() Pos     { return s.At }

func (*VarDecl) stmt()      {}
func (*InputDecl) stmt()    {}
func (*OutputDecl) stmt()   {}
func (*SchemaDecl) stmt()   {}
func (*EntityDecl) stmt()   {}
func (*ComponentDef) stmt() {}
func (*ForStmt) stmt()      {}
func (*ImportStmt) stmt()   {}
func (*Settings) stmt()     {}
