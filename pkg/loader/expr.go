package loader

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/value"
)

var binaryOps = map[*hclsyntax.Operation]ast.Op{
	hclsyntax.OpAdd:                ast.OpAdd,
	hclsyntax.OpSubtract:           ast.OpSub,
	hclsyntax.OpMultiply:           ast.OpMul,
	hclsyntax.OpDivide:             ast.OpDiv,
	hclsyntax.OpModulo:             ast.OpMod,
	hclsyntax.OpEqual:              ast.OpEq,
	hclsyntax.OpNotEqual:           ast.OpNeq,
	hclsyntax.OpLessThan:           ast.OpLt,
	hclsyntax.OpLessThanOrEqual:    ast.OpLte,
	hclsyntax.OpGreaterThan:        ast.OpGt,
	hclsyntax.OpGreaterThanOrEqual: ast.OpGte,
	hclsyntax.OpLogicalAnd:         ast.OpAnd,
	hclsyntax.OpLogicalOr:          ast.OpOr,
}

func pos(rng hcl.Range) ast.Pos {
	return ast.Pos{File: rng.Filename, Line: rng.Start.Line, Column: rng.Start.Column}
}

func errorDiag(rng hcl.Range, summary, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  rng.Ptr(),
	}
}

// convertExpr translates an hclsyntax expression into the evaluator's tree.
func convertExpr(e hclsyntax.Expression) (ast.Expr, hcl.Diagnostics) {
	at := pos(e.Range())

	switch x := e.(type) {
	case *hclsyntax.LiteralValueExpr:
		v, err := value.FromCty(x.Val)
		if err != nil {
			return nil, hcl.Diagnostics{errorDiag(x.SrcRange, "Unsupported literal", err.Error())}
		}
		return &ast.Literal{Value: v, At: at}, nil

	case *hclsyntax.TemplateExpr:
		if x.IsStringLiteral() {
			v, _ := x.Value(nil)
			return &ast.Literal{Value: value.String(v.AsString()), At: at}, nil
		}
		parts, diags := convertAll(x.Parts)
		return &ast.Template{Parts: parts, At: at}, diags

	case *hclsyntax.TemplateWrapExpr:
		return convertExpr(x.Wrapped)

	case *hclsyntax.ScopeTraversalExpr:
		return convertTraversal(nil, x.Traversal)

	case *hclsyntax.RelativeTraversalExpr:
		src, diags := convertExpr(x.Source)
		if diags.HasErrors() {
			return nil, diags
		}
		return convertTraversal(src, x.Traversal)

	case *hclsyntax.FunctionCallExpr:
		args, diags := convertAll(x.Args)
		return &ast.Call{Name: x.Name, Args: args, ExpandFinal: x.ExpandFinal, At: at}, diags

	case *hclsyntax.ConditionalExpr:
		exprs, diags := convertAll([]hclsyntax.Expression{x.Condition, x.TrueResult, x.FalseResult})
		if diags.HasErrors() {
			return nil, diags
		}
		return &ast.Conditional{Cond: exprs[0], True: exprs[1], False: exprs[2], At: at}, nil

	case *hclsyntax.BinaryOpExpr:
		op, ok := binaryOps[x.Op]
		if !ok {
			return nil, hcl.Diagnostics{errorDiag(x.SrcRange, "Unsupported operator", "This binary operator is not supported.")}
		}
		exprs, diags := convertAll([]hclsyntax.Expression{x.LHS, x.RHS})
		if diags.HasErrors() {
			return nil, diags
		}
		return &ast.Binary{Op: op, Left: exprs[0], Right: exprs[1], At: at}, nil

	case *hclsyntax.UnaryOpExpr:
		val, diags := convertExpr(x.Val)
		if diags.HasErrors() {
			return nil, diags
		}
		op := ast.OpNeg
		if x.Op == hclsyntax.OpLogicalNot {
			op = ast.OpNot
		}
		return &ast.Unary{Op: op, X: val, At: at}, nil

	case *hclsyntax.TupleConsExpr:
		elems, diags := convertAll(x.Exprs)
		return &ast.ListExpr{Elems: elems, At: at}, diags

	case *hclsyntax.ObjectConsExpr:
		obj := &ast.ObjectExpr{At: at}
		var diags hcl.Diagnostics
		for _, item := range x.Items {
			key, kd := convertKey(item.KeyExpr)
			diags = append(diags, kd...)
			val, vd := convertExpr(item.ValueExpr)
			diags = append(diags, vd...)
			obj.Items = append(obj.Items, ast.ObjectItem{Key: key, Value: val})
		}
		return obj, diags

	case *hclsyntax.IndexExpr:
		exprs, diags := convertAll([]hclsyntax.Expression{x.Collection, x.Key})
		if diags.HasErrors() {
			return nil, diags
		}
		return &ast.Index{Base: exprs[0], Key: exprs[1], At: at}, nil

	case *hclsyntax.ForExpr:
		return convertFor(x)

	case *hclsyntax.ParenthesesExpr:
		return convertExpr(x.Expression)

	case *hclsyntax.SplatExpr:
		return nil, hcl.Diagnostics{errorDiag(x.SrcRange, "Splat expressions are not supported",
			"Use a for expression instead, for example [for v in list : v.attr].")}

	default:
		return nil, hcl.Diagnostics{errorDiag(e.Range(), "Unsupported expression",
			fmt.Sprintf("Expressions of type %T are not supported.", e))}
	}
}

func convertAll(exprs []hclsyntax.Expression) ([]ast.Expr, hcl.Diagnostics) {
	out := make([]ast.Expr, 0, len(exprs))
	var diags hcl.Diagnostics
	for _, e := range exprs {
		if e == nil {
			out = append(out, nil)
			continue
		}
		conv, d := convertExpr(e)
		diags = append(diags, d...)
		out = append(out, conv)
	}
	return out, diags
}

// convertKey treats a bare single-name key as a string, as HCL does.
func convertKey(e hclsyntax.Expression) (ast.Expr, hcl.Diagnostics) {
	if k, ok := e.(*hclsyntax.ObjectConsKeyExpr); ok {
		if !k.ForceNonLiteral {
			if name := hcl.ExprAsKeyword(k.Wrapped); name != "" {
				return &ast.Literal{Value: value.String(name), At: pos(k.Range())}, nil
			}
		}
		return convertExpr(k.Wrapped)
	}
	return convertExpr(e)
}

func convertTraversal(base ast.Expr, tr hcl.Traversal) (ast.Expr, hcl.Diagnostics) {
	expr := base
	for _, step := range tr {
		at := pos(step.SourceRange())
		switch s := step.(type) {
		case hcl.TraverseRoot:
			expr = &ast.Ident{Name: s.Name, Hops: ast.AnyHops, At: at}
		case hcl.TraverseAttr:
			expr = &ast.Member{Base: expr, Name: s.Name, At: at}
		case hcl.TraverseIndex:
			v, err := value.FromCty(s.Key)
			if err != nil {
				return nil, hcl.Diagnostics{errorDiag(s.SrcRange, "Unsupported index", err.Error())}
			}
			expr = &ast.Index{Base: expr, Key: &ast.Literal{Value: v, At: at}, At: at}
		case hcl.TraverseSplat:
			return nil, hcl.Diagnostics{errorDiag(s.SrcRange, "Splat expressions are not supported",
				"Use a for expression instead.")}
		default:
			return nil, hcl.Diagnostics{errorDiag(step.SourceRange(), "Unsupported traversal", fmt.Sprintf("%T", step))}
		}
	}
	return expr, nil
}

func convertFor(x *hclsyntax.ForExpr) (ast.Expr, hcl.Diagnostics) {
	exprs, diags := convertAll([]hclsyntax.Expression{x.CollExpr, x.KeyExpr, x.ValExpr, x.CondExpr})
	if diags.HasErrors() {
		return nil, diags
	}
	return &ast.ForExpr{
		KeyVar:  x.KeyVar,
		ValVar:  x.ValVar,
		Coll:    exprs[0],
		KeyExpr: exprs[1],
		ValExpr: exprs[2],
		Cond:    exprs[3],
		Group:   x.Group,
		At:      pos(x.SrcRange),
	}, nil
}

// staticValue evaluates an attribute that must not reference anything.
func staticValue(attr *hclsyntax.Attribute) (cty.Value, hcl.Diagnostics) {
	if vars := attr.Expr.Variables(); len(vars) > 0 {
		return cty.NilVal, hcl.Diagnostics{errorDiag(attr.Expr.Range(), "Static value required",
			fmt.Sprintf("The %q argument cannot reference other values.", attr.Name))}
	}
	return attr.Expr.Value(nil)
}

func staticString(attr *hclsyntax.Attribute) (string, hcl.Diagnostics) {
	v, diags := staticValue(attr)
	if diags.HasErrors() {
		return "", diags
	}
	if v.IsNull() || !v.Type().Equals(cty.String) {
		return "", hcl.Diagnostics{errorDiag(attr.Expr.Range(), "Invalid argument",
			fmt.Sprintf("The %q argument must be a string.", attr.Name))}
	}
	return v.AsString(), nil
}

func staticBool(attr *hclsyntax.Attribute) (bool, hcl.Diagnostics) {
	v, diags := staticValue(attr)
	if diags.HasErrors() {
		return false, diags
	}
	if v.IsNull() || !v.Type().Equals(cty.Bool) {
		return false, hcl.Diagnostics{errorDiag(attr.Expr.Range(), "Invalid argument",
			fmt.Sprintf("The %q argument must be a bool.", attr.Name))}
	}
	return v.True(), nil
}

func staticStrings(attr *hclsyntax.Attribute) ([]string, hcl.Diagnostics) {
	v, diags := staticValue(attr)
	if diags.HasErrors() {
		return nil, diags
	}
	if v.IsNull() || !(v.Type().IsTupleType() || v.Type().IsListType()) {
		return nil, hcl.Diagnostics{errorDiag(attr.Expr.Range(), "Invalid argument",
			fmt.Sprintf("The %q argument must be a list of strings.", attr.Name))}
	}
	var out []string
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		if ev.IsNull() || !ev.Type().Equals(cty.String) {
			return nil, hcl.Diagnostics{errorDiag(attr.Expr.Range(), "Invalid argument",
				fmt.Sprintf("The %q argument must be a list of strings.", attr.Name))}
		}
		out = append(out, ev.AsString())
	}
	return out, nil
}
