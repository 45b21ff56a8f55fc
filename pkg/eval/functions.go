package eval

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

// Functions returns the function library available to expressions. Every
// function is pure, so re-running a pass yields the same values.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"abs":        stdlib.AbsoluteFunc,
		"ceil":       stdlib.CeilFunc,
		"coalesce":   stdlib.CoalesceFunc,
		"compact":    stdlib.CompactFunc,
		"concat":     stdlib.ConcatFunc,
		"contains":   stdlib.ContainsFunc,
		"distinct":   stdlib.DistinctFunc,
		"element":    stdlib.ElementFunc,
		"flatten":    stdlib.FlattenFunc,
		"floor":      stdlib.FloorFunc,
		"format":     stdlib.FormatFunc,
		"join":       stdlib.JoinFunc,
		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,
		"keys":       stdlib.KeysFunc,
		"length":     stdlib.LengthFunc,
		"lookup":     stdlib.LookupFunc,
		"lower":      stdlib.LowerFunc,
		"max":        stdlib.MaxFunc,
		"merge":      stdlib.MergeFunc,
		"min":        stdlib.MinFunc,
		"range":      stdlib.RangeFunc,
		"replace":    stdlib.ReplaceFunc,
		"reverse":    stdlib.ReverseListFunc,
		"slice":      stdlib.SliceFunc,
		"sort":       stdlib.SortFunc,
		"split":      stdlib.SplitFunc,
		"strlen":     stdlib.StrlenFunc,
		"substr":     stdlib.SubstrFunc,
		"title":      stdlib.TitleFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"upper":      stdlib.UpperFunc,
		"values":     stdlib.ValuesFunc,
		"zipmap":     stdlib.ZipmapFunc,
	}
}

func (in *Interpreter) evalCall(x *ast.Call, scope *engine.Environment) (engine.Reference, error) {
	fn, ok := in.functions[x.Name]
	if !ok {
		names := make([]string, 0, len(in.functions))
		for name := range in.functions {
			names = append(names, name)
		}
		msg := fmt.Sprintf("call to undefined function %q", x.Name)
		if s := engine.Suggest(x.Name, names); s != "" {
			msg += fmt.Sprintf("; did you mean %q?", s)
		}
		return nil, errorf(engine.ErrorKindNotFound, x.At, "%s", msg)
	}

	args, p, err := in.evalAll(scope, x.Args...)
	if err != nil || p != nil {
		return pendingOr(p), err
	}

	if x.ExpandFinal && len(args) > 0 {
		last := args[len(args)-1]
		switch tv := last.(type) {
		case value.List:
			args = append(args[:len(args)-1:len(args)-1], tv...)
		case value.Unknown:
			return engine.Resolve(value.Unknown{}), nil
		default:
			return nil, errorf(engine.ErrorKindTypeMismatch, x.At, "cannot expand a %s value into arguments of %s()", value.KindOf(last), x.Name)
		}
	}

	ctyArgs := make([]cty.Value, len(args))
	for i, a := range args {
		ctyArgs[i] = value.ToCty(a)
	}
	out, err := fn.Call(ctyArgs)
	if err != nil {
		return nil, errorf(engine.ErrorKindEvaluation, x.At, "call to %s() failed: %v", x.Name, err)
	}
	v, err := value.FromCty(out)
	if err != nil {
		return nil, errorf(engine.ErrorKindEvaluation, x.At, "result of %s(): %v", x.Name, err)
	}
	return engine.Resolve(v), nil
}
