package eval

import (
	"fmt"
	"math"
	"strings"

	"github.com/cairnlang/cairn/pkg/addr"
	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

// evalExpr evaluates e in scope. A Pending result means the expression reads
// an entity that is not evaluated yet. Composite expressions evaluate every
// operand first, so all pending names of one pass are recorded at once.
func (in *Interpreter) evalExpr(e ast.Expr, scope *engine.Environment) (engine.Reference, error) {
	switch x := e.(type) {
	case *ast.Literal:
		if x.Value == nil {
			return engine.Resolve(value.Null{}), nil
		}
		return engine.Resolve(x.Value), nil
	case *ast.Ident:
		return in.evalIdent(x, scope)
	case *ast.Member:
		return in.evalMember(x, scope)
	case *ast.Index:
		return in.evalIndex(x, scope)
	case *ast.Unary:
		return in.evalUnary(x, scope)
	case *ast.Binary:
		return in.evalBinary(x, scope)
	case *ast.Conditional:
		return in.evalConditional(x, scope)
	case *ast.ListExpr:
		return in.evalList(x, scope)
	case *ast.ObjectExpr:
		return in.evalObject(x, scope)
	case *ast.Template:
		return in.evalTemplate(x, scope)
	case *ast.Call:
		return in.evalCall(x, scope)
	case *ast.ForExpr:
		return in.evalFor(x, scope)
	case nil:
		return engine.Resolve(value.Null{}), nil
	default:
		return nil, errorf(engine.ErrorKindEvaluation, e.Pos(), "unsupported expression %T", e)
	}
}

// evalAll evaluates exprs left to right. It returns the values when all
// resolved, or the first Pending after recording every other one.
func (in *Interpreter) evalAll(scope *engine.Environment, exprs ...ast.Expr) ([]value.Value, *engine.Pending, error) {
	refs := make([]engine.Reference, len(exprs))
	for i, e := range exprs {
		ref, err := in.evalExpr(e, scope)
		if err != nil {
			return nil, nil, err
		}
		refs[i] = ref
	}
	if p, ok := in.firstPending(refs...); ok {
		return nil, &p, nil
	}
	vals := make([]value.Value, len(refs))
	for i, ref := range refs {
		vals[i] = ref.(engine.Resolved).Value
	}
	return vals, nil, nil
}

// firstPending records every Pending among refs on the active pass and
// returns the first one.
func (in *Interpreter) firstPending(refs ...engine.Reference) (engine.Pending, bool) {
	var first engine.Pending
	found := false
	for _, ref := range refs {
		p, ok := ref.(engine.Pending)
		if !ok {
			continue
		}
		in.notePending(p)
		if !found {
			first, found = p, true
		}
	}
	return first, found
}

func (in *Interpreter) evalIdent(x *ast.Ident, scope *engine.Environment) (engine.Reference, error) {
	ref, err := engine.ResolveOrPending(scope, x.Name, x.Hops)
	if err != nil {
		return nil, wrapPos(err, x.At)
	}
	if r, ok := ref.(engine.Resolved); ok && r.Entity != nil {
		in.noteRead(r.Entity.Key)
	}
	return ref, nil
}

func (in *Interpreter) evalMember(x *ast.Member, scope *engine.Environment) (engine.Reference, error) {
	base, err := in.evalExpr(x.Base, scope)
	if err != nil {
		return nil, err
	}
	switch b := base.(type) {
	case engine.Pending:
		return b.Append(x.Name), nil
	case engine.Resolved:
		if b.Entity != nil && b.Entity.Kind != engine.KindOutput {
			return in.entityMember(b.Entity, x.Name, x.At)
		}
		return valueMember(b.Value, x.Name, x.At)
	}
	return nil, errorf(engine.ErrorKindEvaluation, x.At, "unexpected reference %T", base)
}

// entityMember reads name off an evaluated entity. Names that are not
// properties of a component instance resolve to the entity registered
// under instance.name, such as a component output.
func (in *Interpreter) entityMember(ent *engine.Entity, name string, pos ast.Pos) (engine.Reference, error) {
	if v, ok := ent.Property(name); ok {
		return engine.Resolve(v), nil
	}
	if ent.Kind == engine.KindComponent {
		key := ent.Key + "." + name
		if child, ok := in.entities.Get(key); ok {
			ref := engine.EntityRef(child)
			if _, ok := ref.(engine.Resolved); ok {
				in.noteRead(child.Key)
			}
			return ref, nil
		}
		return engine.Pending{Target: key, Provenance: engine.ProvenanceChained}, nil
	}
	msg := fmt.Sprintf("%s has no property %q", ent.Key, name)
	if s := engine.Suggest(name, ent.Snapshot().Keys()); s != "" {
		msg += fmt.Sprintf("; did you mean %q?", s)
	}
	return nil, errorf(engine.ErrorKindNotFound, pos, "%s", msg)
}

func valueMember(v value.Value, name string, pos ast.Pos) (engine.Reference, error) {
	switch tv := v.(type) {
	case value.Map:
		if e, ok := tv[name]; ok {
			return engine.Resolve(e), nil
		}
		msg := fmt.Sprintf("object has no attribute %q", name)
		if s := engine.Suggest(name, tv.Keys()); s != "" {
			msg += fmt.Sprintf("; did you mean %q?", s)
		}
		return nil, errorf(engine.ErrorKindNotFound, pos, "%s", msg)
	case value.Unknown:
		return engine.Resolve(value.Unknown{}), nil
	default:
		return nil, errorf(engine.ErrorKindTypeMismatch, pos, "cannot read attribute %q of a %s value", name, value.KindOf(v))
	}
}

func (in *Interpreter) evalIndex(x *ast.Index, scope *engine.Environment) (engine.Reference, error) {
	base, err := in.evalExpr(x.Base, scope)
	if err != nil {
		return nil, err
	}
	key, err := in.evalExpr(x.Key, scope)
	if err != nil {
		return nil, err
	}
	if _, ok := key.(engine.Pending); ok {
		p, _ := in.firstPending(base, key)
		return p, nil
	}
	k := key.(engine.Resolved).Value

	switch b := base.(type) {
	case engine.Pending:
		return in.retryIndexed(b, k, x.At)
	case engine.Resolved:
		if b.Entity != nil && b.Entity.Kind != engine.KindOutput {
			s, ok := k.(value.String)
			if !ok {
				return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "entity %s must be indexed by a property name, got %s", b.Entity.Key, value.KindOf(k))
			}
			return in.entityMember(b.Entity, string(s), x.At)
		}
		return valueIndex(b.Value, k, x.At)
	}
	return nil, errorf(engine.ErrorKindEvaluation, x.At, "unexpected reference %T", base)
}

// retryIndexed handles base[k] on an unresolved base. Indexed entities are
// registered under their full key, so the lookup is retried with it before
// the access is left pending.
func (in *Interpreter) retryIndexed(base engine.Pending, k value.Value, pos ast.Pos) (engine.Reference, error) {
	label := indexLabel(k)
	if len(base.Path) > 0 {
		return base.Append(label), nil
	}
	if _, registered := in.entities.Get(base.Target); registered {
		return base.Append(label), nil
	}
	seg, err := segmentFor(k)
	if err != nil {
		return nil, wrapPos(err, pos)
	}
	full := base.Target + seg.String()
	if ent, ok := in.entities.Get(full); ok {
		ref := engine.EntityRef(ent)
		if _, ok := ref.(engine.Resolved); ok {
			in.noteRead(ent.Key)
		}
		return ref, nil
	}
	return engine.Pending{Target: full, Provenance: base.Provenance}, nil
}

func indexLabel(k value.Value) string {
	if s, ok := k.(value.String); ok {
		return string(s)
	}
	return value.Canonical(k)
}

func valueIndex(v, k value.Value, pos ast.Pos) (engine.Reference, error) {
	if _, ok := k.(value.Unknown); ok {
		return engine.Resolve(value.Unknown{}), nil
	}
	switch tv := v.(type) {
	case value.List:
		n, ok := k.(value.Number)
		if !ok {
			return nil, errorf(engine.ErrorKindTypeMismatch, pos, "list index must be a number, got %s", value.KindOf(k))
		}
		i, ok := n.Int()
		if !ok || i < 0 || i >= len(tv) {
			return nil, errorf(engine.ErrorKindEvaluation, pos, "index %s out of range for list of length %d", n, len(tv))
		}
		return engine.Resolve(tv[i]), nil
	case value.Map:
		var name string
		switch kk := k.(type) {
		case value.String:
			name = string(kk)
		case value.Number:
			name = kk.String()
		default:
			return nil, errorf(engine.ErrorKindTypeMismatch, pos, "map key must be a string, got %s", value.KindOf(k))
		}
		e, ok := tv[name]
		if !ok {
			return nil, errorf(engine.ErrorKindNotFound, pos, "map has no key %q", name)
		}
		return engine.Resolve(e), nil
	case value.Unknown:
		return engine.Resolve(value.Unknown{}), nil
	default:
		return nil, errorf(engine.ErrorKindTypeMismatch, pos, "cannot index a %s value", value.KindOf(v))
	}
}

func (in *Interpreter) evalUnary(x *ast.Unary, scope *engine.Environment) (engine.Reference, error) {
	vals, p, err := in.evalAll(scope, x.X)
	if err != nil || p != nil {
		return pendingOr(p), err
	}
	v := vals[0]
	if _, ok := v.(value.Unknown); ok {
		return engine.Resolve(value.Unknown{}), nil
	}
	switch x.Op {
	case ast.OpNot:
		b, ok := v.(value.Bool)
		if !ok {
			return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "operator ! requires a bool, got %s", value.KindOf(v))
		}
		return engine.Resolve(!b), nil
	case ast.OpNeg:
		n, ok := v.(value.Number)
		if !ok {
			return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "operator - requires a number, got %s", value.KindOf(v))
		}
		return engine.Resolve(-n), nil
	}
	return nil, errorf(engine.ErrorKindEvaluation, x.At, "unknown unary operator %q", x.Op)
}

func (in *Interpreter) evalBinary(x *ast.Binary, scope *engine.Environment) (engine.Reference, error) {
	vals, p, err := in.evalAll(scope, x.Left, x.Right)
	if err != nil || p != nil {
		return pendingOr(p), err
	}
	l, r := vals[0], vals[1]
	if value.KindOf(l) == value.KindUnknown || value.KindOf(r) == value.KindUnknown {
		return engine.Resolve(value.Unknown{}), nil
	}

	switch x.Op {
	case ast.OpEq:
		return engine.Resolve(value.Bool(value.Equal(l, r))), nil
	case ast.OpNeq:
		return engine.Resolve(value.Bool(!value.Equal(l, r))), nil
	case ast.OpAnd, ast.OpOr:
		lb, lok := l.(value.Bool)
		rb, rok := r.(value.Bool)
		if !lok || !rok {
			return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "operator %s requires bools, got %s and %s", x.Op, value.KindOf(l), value.KindOf(r))
		}
		if x.Op == ast.OpAnd {
			return engine.Resolve(lb && rb), nil
		}
		return engine.Resolve(lb || rb), nil
	}

	ln, lok := l.(value.Number)
	rn, rok := r.(value.Number)
	if !lok || !rok {
		return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "operator %s requires numbers, got %s and %s", x.Op, value.KindOf(l), value.KindOf(r))
	}
	switch x.Op {
	case ast.OpAdd:
		return engine.Resolve(ln + rn), nil
	case ast.OpSub:
		return engine.Resolve(ln - rn), nil
	case ast.OpMul:
		return engine.Resolve(ln * rn), nil
	case ast.OpDiv:
		if rn == 0 {
			return nil, errorf(engine.ErrorKindEvaluation, x.At, "division by zero")
		}
		return engine.Resolve(ln / rn), nil
	case ast.OpMod:
		if rn == 0 {
			return nil, errorf(engine.ErrorKindEvaluation, x.At, "modulo by zero")
		}
		return engine.Resolve(value.Number(math.Mod(float64(ln), float64(rn)))), nil
	case ast.OpLt:
		return engine.Resolve(value.Bool(ln < rn)), nil
	case ast.OpLte:
		return engine.Resolve(value.Bool(ln <= rn)), nil
	case ast.OpGt:
		return engine.Resolve(value.Bool(ln > rn)), nil
	case ast.OpGte:
		return engine.Resolve(value.Bool(ln >= rn)), nil
	}
	return nil, errorf(engine.ErrorKindEvaluation, x.At, "unknown binary operator %q", x.Op)
}

func (in *Interpreter) evalConditional(x *ast.Conditional, scope *engine.Environment) (engine.Reference, error) {
	cond, err := in.evalExpr(x.Cond, scope)
	if err != nil {
		return nil, err
	}
	c, ok := cond.(engine.Resolved)
	if !ok {
		return cond, nil
	}
	if _, unknown := c.Value.(value.Unknown); unknown {
		return engine.Resolve(value.Unknown{}), nil
	}
	b, err := value.Truthy(c.Value)
	if err != nil {
		return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "condition: %v", err)
	}
	if b {
		return in.evalExpr(x.True, scope)
	}
	return in.evalExpr(x.False, scope)
}

func (in *Interpreter) evalList(x *ast.ListExpr, scope *engine.Environment) (engine.Reference, error) {
	vals, p, err := in.evalAll(scope, x.Elems...)
	if err != nil || p != nil {
		return pendingOr(p), err
	}
	return engine.Resolve(value.List(vals)), nil
}

func (in *Interpreter) evalObject(x *ast.ObjectExpr, scope *engine.Environment) (engine.Reference, error) {
	exprs := make([]ast.Expr, 0, 2*len(x.Items))
	for _, item := range x.Items {
		exprs = append(exprs, item.Key, item.Value)
	}
	vals, p, err := in.evalAll(scope, exprs...)
	if err != nil || p != nil {
		return pendingOr(p), err
	}
	out := make(value.Map, len(x.Items))
	for i := 0; i < len(vals); i += 2 {
		var key string
		switch k := vals[i].(type) {
		case value.String:
			key = string(k)
		case value.Number, value.Bool:
			key = k.String()
		case value.Unknown:
			return engine.Resolve(value.Unknown{}), nil
		default:
			return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "object key must be a string, got %s", value.KindOf(k))
		}
		if _, dup := out[key]; dup {
			return nil, errorf(engine.ErrorKindEvaluation, x.At, "duplicate object key %q", key)
		}
		out[key] = vals[i+1]
	}
	return engine.Resolve(out), nil
}

func (in *Interpreter) evalTemplate(x *ast.Template, scope *engine.Environment) (engine.Reference, error) {
	vals, p, err := in.evalAll(scope, x.Parts...)
	if err != nil || p != nil {
		return pendingOr(p), err
	}
	var sb strings.Builder
	for _, v := range vals {
		switch tv := v.(type) {
		case value.Unknown:
			return engine.Resolve(value.Unknown{}), nil
		case value.String, value.Number, value.Bool:
			sb.WriteString(tv.String())
		case value.Null, nil:
			return nil, errorf(engine.ErrorKindEvaluation, x.At, "cannot interpolate a null value")
		default:
			return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "cannot interpolate a %s value", value.KindOf(v))
		}
	}
	return engine.Resolve(value.String(sb.String())), nil
}

func (in *Interpreter) evalFor(x *ast.ForExpr, scope *engine.Environment) (engine.Reference, error) {
	coll, err := in.evalExpr(x.Coll, scope)
	if err != nil {
		return nil, err
	}
	c, ok := coll.(engine.Resolved)
	if !ok {
		return coll, nil
	}

	type element struct {
		key value.Value
		val value.Value
	}
	var elems []element
	switch tv := c.Value.(type) {
	case value.Unknown:
		return engine.Resolve(value.Unknown{}), nil
	case value.List:
		for i, v := range tv {
			elems = append(elems, element{key: value.Number(i), val: v})
		}
	case value.Map:
		for _, k := range tv.Keys() {
			elems = append(elems, element{key: value.String(k), val: tv[k]})
		}
	default:
		return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "for expression requires a list or map, got %s", value.KindOf(c.Value))
	}

	var (
		list    value.List
		object  = value.Map{}
		pending []engine.Reference
	)
	for _, el := range elems {
		iter := scope.Child()
		if x.KeyVar != "" {
			iter.Define(x.KeyVar, el.key)
		}
		iter.Define(x.ValVar, el.val)

		if x.Cond != nil {
			ref, err := in.evalExpr(x.Cond, iter)
			if err != nil {
				return nil, err
			}
			r, ok := ref.(engine.Resolved)
			if !ok {
				pending = append(pending, ref)
				continue
			}
			if _, unknown := r.Value.(value.Unknown); unknown {
				return engine.Resolve(value.Unknown{}), nil
			}
			keep, err := value.Truthy(r.Value)
			if err != nil {
				return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "for condition: %v", err)
			}
			if !keep {
				continue
			}
		}

		exprs := []ast.Expr{x.ValExpr}
		if x.KeyExpr != nil {
			exprs = append(exprs, x.KeyExpr)
		}
		vals, p, err := in.evalAll(iter, exprs...)
		if err != nil {
			return nil, err
		}
		if p != nil {
			pending = append(pending, *p)
			continue
		}

		if x.KeyExpr == nil {
			list = append(list, vals[0])
			continue
		}
		k, ok := vals[1].(value.String)
		if !ok {
			if _, unknown := vals[1].(value.Unknown); unknown {
				return engine.Resolve(value.Unknown{}), nil
			}
			return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "for expression key must be a string, got %s", value.KindOf(vals[1]))
		}
		if x.Group {
			prev, _ := object[string(k)].(value.List)
			object[string(k)] = append(prev, vals[0])
			continue
		}
		if _, dup := object[string(k)]; dup {
			return nil, errorf(engine.ErrorKindEvaluation, x.At, "duplicate key %q in for expression; use ... to group", string(k))
		}
		object[string(k)] = vals[0]
	}

	if p, ok := in.firstPending(pending...); ok {
		return p, nil
	}
	if x.KeyExpr != nil {
		return engine.Resolve(object), nil
	}
	if list == nil {
		list = value.List{}
	}
	return engine.Resolve(list), nil
}

// segmentFor turns an instance key into a path segment: integral numbers
// index, strings key, anything else is a canonical literal.
func segmentFor(k value.Value) (addr.Segment, error) {
	switch tv := k.(type) {
	case value.Number:
		if i, ok := tv.Int(); ok {
			return addr.Index(i), nil
		}
		return addr.Literal(value.Canonical(tv)), nil
	case value.String:
		return addr.Key(string(tv)), nil
	case value.Null, nil:
		return addr.Segment{}, engine.NewEvaluationError("null cannot be used as an instance key", nil)
	case value.Unknown:
		return addr.Segment{}, engine.NewEvaluationError("instance key is not known until apply", nil)
	default:
		return addr.Literal(value.Canonical(tv)), nil
	}
}

// pendingOr converts an optional Pending to a Reference, nil when absent.
func pendingOr(p *engine.Pending) engine.Reference {
	if p == nil {
		return nil
	}
	return *p
}
