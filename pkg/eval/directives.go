package eval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

// Invocation is one directive applied to an evaluated entity.
type Invocation struct {
	Entity *engine.Entity
	Name   string
	Args   map[string]value.Value
	Pos    ast.Pos
}

// Arg returns a named argument.
func (inv Invocation) Arg(name string) (value.Value, bool) {
	v, ok := inv.Args[name]
	return v, ok
}

// StringArg returns a required string argument.
func (inv Invocation) StringArg(name string) (string, error) {
	v, ok := inv.Args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(value.String)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %s", name, value.KindOf(v))
	}
	return string(s), nil
}

// NumberArg returns a required number argument.
func (inv Invocation) NumberArg(name string) (float64, error) {
	v, ok := inv.Args[name]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", name)
	}
	n, ok := v.(value.Number)
	if !ok {
		return 0, fmt.Errorf("argument %q must be a number, got %s", name, value.KindOf(v))
	}
	return float64(n), nil
}

// Target returns the value of the property named by the "property"
// argument, and whether it is known.
func (inv Invocation) Target() (string, value.Value, bool, error) {
	prop, err := inv.StringArg("property")
	if err != nil {
		return "", nil, false, err
	}
	v, ok := inv.Entity.Property(prop)
	if !ok {
		return prop, nil, false, fmt.Errorf("%s has no property %q", inv.Entity.Key, prop)
	}
	if value.ContainsUnknown(v) {
		return prop, v, false, nil
	}
	return prop, v, true, nil
}

// DirectiveHandler implements a directive. Invoke runs once, after the
// entity is fully evaluated.
type DirectiveHandler interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) error
}

// DirectiveFunc adapts a function to a DirectiveHandler.
type DirectiveFunc func(ctx context.Context, inv Invocation) error

type funcDirective struct {
	name string
	fn   DirectiveFunc
}

func (d funcDirective) Name() string { return d.name }

func (d funcDirective) Invoke(ctx context.Context, inv Invocation) error {
	return d.fn(ctx, inv)
}

// NewDirective creates a handler named name.
func NewDirective(name string, fn DirectiveFunc) DirectiveHandler {
	return funcDirective{name: name, fn: fn}
}

// DirectiveRegistry resolves directive names to handlers.
type DirectiveRegistry struct {
	handlers map[string]DirectiveHandler
}

// NewDirectiveRegistry creates a registry holding the built-in directives.
func NewDirectiveRegistry() *DirectiveRegistry {
	r := &DirectiveRegistry{handlers: make(map[string]DirectiveHandler)}
	for _, h := range builtinDirectives() {
		r.handlers[h.Name()] = h
	}
	return r
}

// Register adds h. Names are unique.
func (r *DirectiveRegistry) Register(h DirectiveHandler) error {
	if _, exists := r.handlers[h.Name()]; exists {
		return engine.NewDeclarationExistsError("directive " + h.Name())
	}
	r.handlers[h.Name()] = h
	return nil
}

// Lookup finds a handler by name.
func (r *DirectiveRegistry) Lookup(name string) (DirectiveHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered directive name, sorted.
func (r *DirectiveRegistry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkDirectives fails on directive names nothing handles.
func (in *Interpreter) checkDirectives(directives []ast.Directive) error {
	for _, d := range directives {
		if _, ok := in.directives.Lookup(d.Name); ok {
			continue
		}
		msg := fmt.Sprintf("unknown directive %q", d.Name)
		if s := engine.Suggest(d.Name, in.directives.Names()); s != "" {
			msg += fmt.Sprintf("; did you mean %q?", s)
		}
		return errorf(engine.ErrorKindEvaluation, d.At, "%s", msg)
	}
	return nil
}

// invokeDirectives runs every directive of ent and reports all failures
// together.
func (in *Interpreter) invokeDirectives(ent *engine.Entity) error {
	var result *multierror.Error
	for _, d := range ent.Invocations {
		h, ok := in.directives.Lookup(d.Name)
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%s: unknown directive", d.Name))
			continue
		}
		inv := Invocation{Entity: ent, Name: d.Name, Args: d.Args, Pos: d.Pos}
		if err := h.Invoke(in.ctx, inv); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", d.Name, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return entityError(ent, engine.NewEvaluationError(
			fmt.Sprintf("%d directive(s) failed on %s", len(result.Errors), ent.Key), err), ent.Pos)
	}
	return nil
}

func builtinDirectives() []DirectiveHandler {
	return []DirectiveHandler{
		NewDirective("description", func(_ context.Context, inv Invocation) error {
			text, err := inv.StringArg("text")
			if err != nil {
				return err
			}
			inv.Entity.Metadata["description"] = value.String(text)
			return nil
		}),
		NewDirective("sensitive", func(_ context.Context, inv Invocation) error {
			if _, ok := inv.Arg("property"); !ok {
				if inv.Entity.Kind == engine.KindOutput {
					inv.Entity.Sensitive[engine.OutputValue] = true
				} else {
					inv.Entity.Sensitive[AllProperties] = true
				}
				return nil
			}
			prop, err := inv.StringArg("property")
			if err != nil {
				return err
			}
			inv.Entity.Sensitive[prop] = true
			return nil
		}),
		NewDirective("existing", func(_ context.Context, inv Invocation) error {
			inv.Entity.Metadata["existing"] = value.Bool(true)
			return nil
		}),
		NewDirective("min_value", boundDirective(func(v, bound float64) bool { return v >= bound }, "less than")),
		NewDirective("max_value", boundDirective(func(v, bound float64) bool { return v <= bound }, "greater than")),
		NewDirective("min_length", lengthDirective(func(n, bound int) bool { return n >= bound }, "shorter than")),
		NewDirective("max_length", lengthDirective(func(n, bound int) bool { return n <= bound }, "longer than")),
		NewDirective("allowed", allowedDirective),
		NewDirective("non_empty", nonEmptyDirective),
		NewDirective("pattern", patternDirective),
	}
}

// AllProperties marks every property of an entity as sensitive.
const AllProperties = "*"

func boundDirective(ok func(v, bound float64) bool, verb string) DirectiveFunc {
	return func(_ context.Context, inv Invocation) error {
		bound, err := inv.NumberArg("value")
		if err != nil {
			return err
		}
		prop, v, known, err := inv.Target()
		if err != nil || !known {
			return err
		}
		n, isNum := v.(value.Number)
		if !isNum {
			return fmt.Errorf("property %q must be a number, got %s", prop, value.KindOf(v))
		}
		if !ok(float64(n), bound) {
			return fmt.Errorf("property %q is %s, %s %s", prop, n, verb, value.Number(bound))
		}
		return nil
	}
}

func lengthDirective(ok func(n, bound int) bool, verb string) DirectiveFunc {
	return func(_ context.Context, inv Invocation) error {
		bound, err := inv.NumberArg("value")
		if err != nil {
			return err
		}
		prop, v, known, err := inv.Target()
		if err != nil || !known {
			return err
		}
		n, err := lengthOf(v)
		if err != nil {
			return fmt.Errorf("property %q: %w", prop, err)
		}
		if !ok(n, int(bound)) {
			return fmt.Errorf("property %q has length %d, %s %d", prop, n, verb, int(bound))
		}
		return nil
	}
}

func lengthOf(v value.Value) (int, error) {
	switch tv := v.(type) {
	case value.String:
		return utf8.RuneCountInString(string(tv)), nil
	case value.List:
		return len(tv), nil
	case value.Map:
		return len(tv), nil
	case value.Null, nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("a %s value has no length", value.KindOf(v))
	}
}

func allowedDirective(_ context.Context, inv Invocation) error {
	raw, ok := inv.Arg("values")
	if !ok {
		return fmt.Errorf("missing argument %q", "values")
	}
	allowed, ok := raw.(value.List)
	if !ok {
		return fmt.Errorf("argument %q must be a list, got %s", "values", value.KindOf(raw))
	}
	prop, v, known, err := inv.Target()
	if err != nil || !known {
		return err
	}
	for _, a := range allowed {
		if value.Equal(a, v) {
			return nil
		}
	}
	return fmt.Errorf("property %q is %s, must be one of %s", prop, value.Repr(v), allowed)
}

func nonEmptyDirective(_ context.Context, inv Invocation) error {
	prop, v, known, err := inv.Target()
	if err != nil || !known {
		return err
	}
	n, err := lengthOf(v)
	if err != nil {
		return fmt.Errorf("property %q: %w", prop, err)
	}
	if n == 0 {
		return fmt.Errorf("property %q must not be empty", prop)
	}
	return nil
}

func patternDirective(_ context.Context, inv Invocation) error {
	expr, err := inv.StringArg("regex")
	if err != nil {
		return err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid regex %q: %w", expr, err)
	}
	prop, v, known, err := inv.Target()
	if err != nil || !known {
		return err
	}
	s, ok := v.(value.String)
	if !ok {
		return fmt.Errorf("property %q must be a string, got %s", prop, value.KindOf(v))
	}
	if !re.MatchString(string(s)) {
		return fmt.Errorf("property %q value %q does not match %s", prop, string(s), expr)
	}
	return nil
}
