package ast

import (
	"fmt"

	"github.com/cairnlang/cairn/pkg/value"
)

// Pos is a source position.
type Pos struct {
	File   string
	Line   int
	Column int
}

// String renders the position as file:line:column.
func (p Pos) String() string {
	if p.File == "" && p.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// AnyHops marks an identifier whose scope depth was not resolved statically.
const AnyHops = -1

// Op is a unary or binary operator.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpMod Op = "%"
	OpEq  Op = "=="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpAnd Op = "&&"
	OpOr  Op = "||"
	OpNot Op = "!"
	OpNeg Op = "neg"
)

// Expr is an expression node.
type Expr interface {
	Pos() Pos
	expr()
}

// Literal is a constant value.
type Literal struct {
	Value value.Value
	At    Pos
}

// Ident is a bare name. Hops is the number of parent scopes to walk, or
// AnyHops to search outward.
type Ident struct {
	Name string
	Hops int
	At   Pos
}

// Member is attribute access: Base.Name.
type Member struct {
	Base Expr
	Name string
	At   Pos
}

// Index is computed access: Base[Key].
type Index struct {
	Base Expr
	Key  Expr
	At   Pos
}

// Unary applies OpNot or OpNeg.
type Unary struct {
	Op Op
	X  Expr
	At Pos
}

// Binary applies an arithmetic, comparison or logical operator.
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
	At    Pos
}

// Conditional is cond ? t : f.
type Conditional struct {
	Cond  Expr
	True  Expr
	False Expr
	At    Pos
}

// ListExpr is a list constructor.
type ListExpr struct {
	Elems []Expr
	At    Pos
}

// ObjectItem is one key = value pair of an object constructor.
type ObjectItem struct {
	Key   Expr
	Value Expr
}

// ObjectExpr is an object constructor.
type ObjectExpr struct {
	Items []ObjectItem
	At    Pos
}

// Template concatenates its parts as strings.
type Template struct {
	Parts []Expr
	At    Pos
}

// Call invokes a library function. ExpandFinal spreads the last argument.
type Call struct {
	Name        string
	Args        []Expr
	ExpandFinal bool
	At          Pos
}

// ForExpr is a list or object comprehension.
type ForExpr struct {
	KeyVar string
	ValVar string
	Coll   Expr

	// KeyExpr is set for object comprehensions.
	KeyExpr Expr
	ValExpr Expr
	Cond    Expr
	Group   bool
	At      Pos
}

func (e *Literal) Pos() Pos     { return e.At }
func (e *Ident) Pos() Pos       { return e.At }
func (e *Member) Pos() Pos      { return e.At }
func (e *Index) Pos() Pos       { return e.At }
func (e *Unary) Pos() Pos       { return e.At }
func (e *Binary) Pos() Pos      { return e.At }
func (e *Conditional) Pos() Pos { return e.At }
func (e *ListExpr) Pos() Pos    { return e.At }
func (e *ObjectExpr) Pos() Pos  { return e.At }
func (e *Template) Pos() Pos    { return e.At }
func (e *Call) Pos() Pos        { return e.At }
func (e *ForExpr) Pos() Pos     { return e.At }

func (*Literal) expr()     {}
func (*Ident) expr()       {}
func (*Member) expr()      {}
func (*Index) expr()       {}
func (*Unary) expr()       {}
func (*Binary) expr()      {}
func (*Conditional) expr() {}
func (*ListExpr) expr()    {}
func (*ObjectExpr) expr()  {}
func (*Template) expr()    {}
func (*Call) expr()        {}
func (*ForExpr) expr()     {}

// Lit is shorthand for a position-less literal.
func Lit(v value.Value) *Literal {
	return &Literal{Value: v}
}

// Name is shorthand for an identifier searched outward from the current scope.
func Name(name string) *Ident {
	return &Ident{Name: name, Hops: AnyHops}
}

// Ref builds a member chain such as main.maxCount from its parts.
func Ref(root string, attrs ...string) Expr {
	var e Expr = Name(root)
	for _, a := range attrs {
		e = &Member{Base: e, Name: a}
	}
	return e
}
