package loader

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/cairnlang/cairn/pkg/ast"
)

// bodyKind selects which blocks are allowed in a body.
type bodyKind int

const (
	bodyRoot bodyKind = iota
	bodyComponent
	bodyLoop
)

func (k bodyKind) String() string {
	switch k {
	case bodyComponent:
		return "a component definition"
	case bodyLoop:
		return "a for block"
	default:
		return "the file root"
	}
}

// item is an attribute or a block, so a body can be walked in source order.
type item struct {
	start int
	attr  *hclsyntax.Attribute
	block *hclsyntax.Block
}

func ordered(body *hclsyntax.Body) []item {
	items := make([]item, 0, len(body.Attributes)+len(body.Blocks))
	for _, a := range body.Attributes {
		items = append(items, item{start: a.SrcRange.Start.Byte, attr: a})
	}
	for _, b := range body.Blocks {
		items = append(items, item{start: b.TypeRange.Start.Byte, block: b})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].start < items[j].start })
	return items
}

// convertBody turns a body into statements. Imports are collected for the
// loader to resolve.
func (l *Loader) convertBody(body *hclsyntax.Body, kind bodyKind) ([]ast.Stmt, hcl.Diagnostics) {
	var (
		stmts []ast.Stmt
		diags hcl.Diagnostics
	)
	for _, it := range ordered(body) {
		if it.attr != nil {
			val, d := convertExpr(it.attr.Expr)
			diags = append(diags, d...)
			stmts = append(stmts, &ast.VarDecl{Name: it.attr.Name, Value: val, At: pos(it.attr.SrcRange)})
			continue
		}
		stmt, d := l.convertBlock(it.block, kind)
		diags = append(diags, d...)
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, diags
}

func (l *Loader) convertBlock(b *hclsyntax.Block, kind bodyKind) (ast.Stmt, hcl.Diagnostics) {
	switch b.Type {
	case "resource":
		if d := wantLabels(b, 2); d != nil {
			return nil, d
		}
		return convertEntity(b, ast.DeclResource)

	case "component":
		switch len(b.Labels) {
		case 1:
			return l.convertComponentDef(b)
		case 2:
			return convertEntity(b, ast.DeclComponent)
		}
		return nil, hcl.Diagnostics{errorDiag(b.TypeRange, "Invalid component block",
			"A component block takes a type label to define a component, or a type and a name to instantiate one.")}

	case "output":
		if d := wantLabels(b, 1); d != nil {
			return nil, d
		}
		return convertOutput(b)

	case "input":
		if d := wantLabels(b, 1); d != nil {
			return nil, d
		}
		in, diags := convertInput(b)
		if diags.HasErrors() {
			return nil, diags
		}
		return &in, nil

	case "for":
		return l.convertFor(b)

	case "schema":
		if kind != bodyRoot {
			return nil, notAllowed(b, kind)
		}
		if d := wantLabels(b, 1); d != nil {
			return nil, d
		}
		return convertSchema(b)

	case "import":
		if kind != bodyRoot {
			return nil, notAllowed(b, kind)
		}
		if d := wantLabels(b, 1); d != nil {
			return nil, d
		}
		if len(b.Body.Attributes)+len(b.Body.Blocks) > 0 {
			return nil, hcl.Diagnostics{errorDiag(b.Body.SrcRange, "Invalid import block", "An import block has no arguments.")}
		}
		return &ast.ImportStmt{Path: b.Labels[0], At: pos(b.TypeRange)}, nil

	case "cairn":
		if kind != bodyRoot {
			return nil, notAllowed(b, kind)
		}
		return convertSettings(b)
	}

	return nil, hcl.Diagnostics{errorDiag(b.TypeRange, "Unsupported block type",
		fmt.Sprintf("Blocks of type %q are not expected in %s.", b.Type, kind))}
}

func wantLabels(b *hclsyntax.Block, n int) hcl.Diagnostics {
	if len(b.Labels) == n {
		return nil
	}
	return hcl.Diagnostics{errorDiag(b.TypeRange, "Wrong number of labels",
		fmt.Sprintf("A %s block takes %d label(s), got %d.", b.Type, n, len(b.Labels)))}
}

func notAllowed(b *hclsyntax.Block, kind bodyKind) hcl.Diagnostics {
	return hcl.Diagnostics{errorDiag(b.TypeRange, "Block not allowed here",
		fmt.Sprintf("A %s block cannot appear inside %s.", b.Type, kind))}
}

// convertEntity handles resource and component instance blocks.
func convertEntity(b *hclsyntax.Block, kind ast.DeclKind) (ast.Stmt, hcl.Diagnostics) {
	decl := &ast.EntityDecl{
		Kind: kind,
		Type: b.Labels[0],
		Name: b.Labels[1],
		At:   pos(b.TypeRange),
	}
	var diags hcl.Diagnostics

	for _, it := range ordered(b.Body) {
		if it.block != nil {
			if it.block.Type != "directive" {
				diags = append(diags, errorDiag(it.block.TypeRange, "Unsupported block type",
					fmt.Sprintf("Only directive blocks are allowed inside a %s.", kind)))
				continue
			}
			dir, d := convertDirective(it.block)
			diags = append(diags, d...)
			decl.Directives = append(decl.Directives, dir)
			continue
		}

		attr := it.attr
		switch attr.Name {
		case "depends_on":
			tuple, ok := attr.Expr.(*hclsyntax.TupleConsExpr)
			if !ok {
				diags = append(diags, errorDiag(attr.Expr.Range(), "Invalid depends_on", "depends_on must be a list of references."))
				continue
			}
			deps, d := convertAll(tuple.Exprs)
			diags = append(diags, d...)
			decl.DependsOn = deps
		case "count":
			e, d := convertExpr(attr.Expr)
			diags = append(diags, d...)
			decl.Count = e
		case "tags":
			e, d := convertExpr(attr.Expr)
			diags = append(diags, d...)
			decl.Tags = e
		case "provider":
			p, d := staticString(attr)
			diags = append(diags, d...)
			decl.Providers = append(decl.Providers, p)
		case "providers":
			ps, d := staticStrings(attr)
			diags = append(diags, d...)
			decl.Providers = append(decl.Providers, ps...)
		default:
			e, d := convertExpr(attr.Expr)
			diags = append(diags, d...)
			decl.Properties = append(decl.Properties, ast.Property{Name: attr.Name, Value: e, At: pos(attr.SrcRange)})
		}
	}
	return decl, diags
}

func convertDirective(b *hclsyntax.Block) (ast.Directive, hcl.Diagnostics) {
	if d := wantLabels(b, 1); d != nil {
		return ast.Directive{}, d
	}
	dir := ast.Directive{Name: b.Labels[0], At: pos(b.TypeRange)}
	var diags hcl.Diagnostics
	if len(b.Body.Blocks) > 0 {
		diags = append(diags, errorDiag(b.Body.Blocks[0].TypeRange, "Unsupported block type", "Directive arguments are attributes."))
	}
	for _, it := range ordered(b.Body) {
		if it.attr == nil {
			continue
		}
		e, d := convertExpr(it.attr.Expr)
		diags = append(diags, d...)
		dir.Args = append(dir.Args, ast.Property{Name: it.attr.Name, Value: e, At: pos(it.attr.SrcRange)})
	}
	return dir, diags
}

func convertOutput(b *hclsyntax.Block) (ast.Stmt, hcl.Diagnostics) {
	out := &ast.OutputDecl{Name: b.Labels[0], At: pos(b.TypeRange)}
	var diags hcl.Diagnostics
	for name, attr := range b.Body.Attributes {
		var d hcl.Diagnostics
		switch name {
		case "value":
			out.Value, d = convertExpr(attr.Expr)
		case "sensitive":
			out.Sensitive, d = staticBool(attr)
		case "description":
			out.Description, d = staticString(attr)
		default:
			d = unexpectedArgument(attr, "output")
		}
		diags = append(diags, d...)
	}
	if _, ok := b.Body.Attributes["value"]; !ok {
		diags = append(diags, errorDiag(b.Body.SrcRange, "Missing value", fmt.Sprintf("Output %q requires a value argument.", out.Name)))
	}
	return out, diags
}

func convertInput(b *hclsyntax.Block) (ast.InputDecl, hcl.Diagnostics) {
	in := ast.InputDecl{Name: b.Labels[0], At: pos(b.TypeRange)}
	var diags hcl.Diagnostics
	for name, attr := range b.Body.Attributes {
		var d hcl.Diagnostics
		switch name {
		case "type":
			in.Type, d = staticString(attr)
		case "default":
			in.Default, d = convertExpr(attr.Expr)
		case "description":
			in.Description, d = staticString(attr)
		default:
			d = unexpectedArgument(attr, "input")
		}
		diags = append(diags, d...)
	}
	return in, diags
}

func convertSchema(b *hclsyntax.Block) (ast.Stmt, hcl.Diagnostics) {
	schema := &ast.SchemaDecl{Name: b.Labels[0], At: pos(b.TypeRange)}
	var diags hcl.Diagnostics
	for _, a := range b.Body.Attributes {
		diags = append(diags, unexpectedArgument(a, "schema")...)
	}
	for _, pb := range b.Body.Blocks {
		if pb.Type != "property" {
			diags = append(diags, errorDiag(pb.TypeRange, "Unsupported block type", "A schema only contains property blocks."))
			continue
		}
		if d := wantLabels(pb, 1); d != nil {
			diags = append(diags, d...)
			continue
		}
		prop := ast.SchemaProperty{Name: pb.Labels[0], Type: "any", At: pos(pb.TypeRange)}
		for name, attr := range pb.Body.Attributes {
			var d hcl.Diagnostics
			switch name {
			case "type":
				prop.Type, d = staticString(attr)
			case "default":
				prop.Default, d = convertExpr(attr.Expr)
			case "cloud":
				prop.Cloud, d = staticBool(attr)
			case "sensitive":
				prop.Sensitive, d = staticBool(attr)
			default:
				d = unexpectedArgument(attr, "property")
			}
			diags = append(diags, d...)
		}
		schema.Properties = append(schema.Properties, prop)
	}
	return schema, diags
}

func convertSettings(b *hclsyntax.Block) (ast.Stmt, hcl.Diagnostics) {
	s := &ast.Settings{At: pos(b.TypeRange)}
	var diags hcl.Diagnostics
	for name, attr := range b.Body.Attributes {
		var d hcl.Diagnostics
		switch name {
		case "required_version":
			s.RequiredVersion, d = staticString(attr)
		default:
			d = unexpectedArgument(attr, "cairn")
		}
		diags = append(diags, d...)
	}
	return s, diags
}

func (l *Loader) convertComponentDef(b *hclsyntax.Block) (ast.Stmt, hcl.Diagnostics) {
	def := &ast.ComponentDef{Type: b.Labels[0], At: pos(b.TypeRange)}
	var diags hcl.Diagnostics

	body := &hclsyntax.Body{Attributes: b.Body.Attributes, SrcRange: b.Body.SrcRange, EndRange: b.Body.EndRange}
	for _, inner := range b.Body.Blocks {
		if inner.Type != "input" {
			body.Blocks = append(body.Blocks, inner)
			continue
		}
		if d := wantLabels(inner, 1); d != nil {
			diags = append(diags, d...)
			continue
		}
		in, d := convertInput(inner)
		diags = append(diags, d...)
		def.Inputs = append(def.Inputs, in)
	}

	stmts, d := l.convertBody(body, bodyComponent)
	def.Body = stmts
	return def, append(diags, d...)
}

func (l *Loader) convertFor(b *hclsyntax.Block) (ast.Stmt, hcl.Diagnostics) {
	loop := &ast.ForStmt{At: pos(b.TypeRange)}
	switch len(b.Labels) {
	case 1:
		loop.ValVar = b.Labels[0]
	case 2:
		loop.KeyVar, loop.ValVar = b.Labels[0], b.Labels[1]
	default:
		return nil, hcl.Diagnostics{errorDiag(b.TypeRange, "Wrong number of labels",
			"A for block takes a value name, or a key name and a value name.")}
	}

	coll, ok := b.Body.Attributes["in"]
	if !ok {
		return nil, hcl.Diagnostics{errorDiag(b.Body.SrcRange, "Missing collection", "A for block requires an in argument.")}
	}
	var diags hcl.Diagnostics
	loop.Coll, diags = convertExpr(coll.Expr)

	attrs := make(hclsyntax.Attributes, len(b.Body.Attributes)-1)
	for name, a := range b.Body.Attributes {
		if name != "in" {
			attrs[name] = a
		}
	}
	body := &hclsyntax.Body{Attributes: attrs, Blocks: b.Body.Blocks, SrcRange: b.Body.SrcRange, EndRange: b.Body.EndRange}
	stmts, d := l.convertBody(body, bodyLoop)
	loop.Body = stmts
	return loop, append(diags, d...)
}

func unexpectedArgument(attr *hclsyntax.Attribute, block string) hcl.Diagnostics {
	return hcl.Diagnostics{errorDiag(attr.NameRange, "Unsupported argument",
		fmt.Sprintf("An argument named %q is not expected in a %s block.", attr.Name, block))}
}
