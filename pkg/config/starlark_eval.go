package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/value"
)

// DefaultScriptTimeout bounds a single validator call.
const DefaultScriptTimeout = 5 * time.Second

// ScriptDirective is a directive implemented in Starlark. The script must
// define a function
//
//	def validate(entity, args):
//	    if entity.properties["size"] > args["limit"]:
//	        return "size is over the limit"
//
// entity is a struct with key, type, kind, properties, tags and unknown
// (the names of properties not known until apply). The function accepts
// the entity by returning None, True or an empty string or list. A string
// or a list of strings reports failures; False fails without a message.
type ScriptDirective struct {
	name     string
	filename string
	fn       starlark.Callable
	timeout  time.Duration
}

// NewScriptDirective compiles src and looks up its validate function.
func NewScriptDirective(name, filename string, src []byte, timeout time.Duration) (*ScriptDirective, error) {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	thread := &starlark.Thread{Name: name, Print: func(*starlark.Thread, string) {}}
	predeclared := starlark.StringDict{"struct": starlark.NewBuiltin("struct", starlarkstruct.Make)}
	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load validator %s: %w", name, err)
	}
	globals.Freeze()

	fn, ok := globals["validate"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("validator %s: %s does not define a validate function", name, filename)
	}
	return &ScriptDirective{name: name, filename: filename, fn: fn, timeout: timeout}, nil
}

// LoadScriptDirectives reads one script per directive name. Handlers are
// returned sorted by name.
func LoadScriptDirectives(fs afero.Fs, scripts map[string]string, timeout time.Duration) ([]eval.DirectiveHandler, error) {
	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)

	handlers := make([]eval.DirectiveHandler, 0, len(names))
	for _, name := range names {
		src, err := afero.ReadFile(fs, scripts[name])
		if err != nil {
			return nil, fmt.Errorf("failed to read validator %s: %w", name, err)
		}
		d, err := NewScriptDirective(name, scripts[name], src, timeout)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, d)
	}
	return handlers, nil
}

// Name implements eval.DirectiveHandler.
func (d *ScriptDirective) Name() string { return d.name }

// Invoke implements eval.DirectiveHandler.
func (d *ScriptDirective) Invoke(ctx context.Context, inv eval.Invocation) error {
	entity, err := entityStruct(inv)
	if err != nil {
		return err
	}
	args, err := toStarlark(value.Map(inv.Args))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	thread := &starlark.Thread{Name: d.name, Print: func(*starlark.Thread, string) {}}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	result, err := starlark.Call(thread, d.fn, starlark.Tuple{entity, args}, nil)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return fmt.Errorf("%s", evalErr.Msg)
		}
		return err
	}
	return d.verdict(result)
}

func (d *ScriptDirective) verdict(result starlark.Value) error {
	switch r := result.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		if r {
			return nil
		}
		return fmt.Errorf("rejected by %s", d.name)
	case starlark.String:
		if r == "" {
			return nil
		}
		return errors.New(string(r))
	case *starlark.List:
		var merr *multierror.Error
		for i := 0; i < r.Len(); i++ {
			s, ok := r.Index(i).(starlark.String)
			if !ok {
				return fmt.Errorf("%s: validate returned a list holding %s", d.filename, r.Index(i).Type())
			}
			merr = multierror.Append(merr, errors.New(string(s)))
		}
		return merr.ErrorOrNil()
	}
	return fmt.Errorf("%s: validate must return None, a bool, a string or a list of strings, got %s", d.filename, result.Type())
}

func entityStruct(inv eval.Invocation) (*starlarkstruct.Struct, error) {
	ent := inv.Entity
	known := make(value.Map, len(ent.Values))
	var unknown []starlark.Value
	for _, name := range value.SortedKeys(ent.Values) {
		v := ent.Values[name]
		if value.ContainsUnknown(v) {
			unknown = append(unknown, starlark.String(name))
			continue
		}
		known[name] = v
	}

	props, err := toStarlark(known)
	if err != nil {
		return nil, err
	}
	tags, err := toStarlark(ent.TagValues)
	if err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"key":        starlark.String(ent.Key),
		"type":       starlark.String(ent.Type),
		"kind":       starlark.String(string(ent.Kind)),
		"properties": props,
		"tags":       tags,
		"unknown":    starlark.NewList(unknown),
	}), nil
}

// toStarlark converts a runtime value. Unknown values become None.
func toStarlark(v value.Value) (starlark.Value, error) {
	switch tv := v.(type) {
	case nil, value.Null, value.Unknown:
		return starlark.None, nil
	case value.Bool:
		return starlark.Bool(tv), nil
	case value.Number:
		if i, ok := tv.Int(); ok {
			return starlark.MakeInt(i), nil
		}
		return starlark.Float(tv), nil
	case value.String:
		return starlark.String(tv), nil
	case value.List:
		elems := make([]starlark.Value, len(tv))
		for i, e := range tv {
			conv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = conv
		}
		return starlark.NewList(elems), nil
	case value.Map:
		dict := starlark.NewDict(len(tv))
		for _, k := range value.SortedKeys(tv) {
			conv, err := toStarlark(tv[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
