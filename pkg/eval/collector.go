package eval

import (
	"fmt"
	"sort"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

// passState tracks the names one entity pass reads.
type passState struct {
	entity  *engine.Entity
	reads   []string
	seen    map[string]bool
	pending map[string]engine.Provenance
}

func newPassState(ent *engine.Entity) *passState {
	return &passState{
		entity:  ent,
		seen:    make(map[string]bool),
		pending: make(map[string]engine.Provenance),
	}
}

func (p *passState) read(key string) {
	if p.seen[key] {
		return
	}
	p.seen[key] = true
	p.reads = append(p.reads, key)
}

func (p *passState) wait(target string, prov engine.Provenance) {
	if _, ok := p.pending[target]; !ok {
		p.pending[target] = prov
	}
	p.read(target)
}

func (in *Interpreter) noteRead(key string) {
	if in.pass != nil {
		in.pass.read(key)
	}
}

func (in *Interpreter) notePending(p engine.Pending) {
	if in.pass != nil {
		in.pass.wait(p.Target, p.Provenance)
	}
}

// declare registers ent, runs its first pass and drains every
// re-evaluation the pass unblocked.
func (in *Interpreter) declare(f frame, ent *engine.Entity, alias string) error {
	if err := f.scope.RegisterResource(ent.Key, ent); err != nil {
		return wrapPos(err, ent.Pos)
	}
	if alias != "" && f.scope != in.root {
		if err := f.scope.Alias(alias, ent); err != nil {
			return wrapPos(err, ent.Pos)
		}
	}
	in.metrics.RecordEntityDeclared(string(ent.Kind))
	in.logger.Debug().
		Str("entity", ent.Key).
		Str("path", ent.Path.String()).
		Str("kind", string(ent.Kind)).
		Int("seq", ent.Seq).
		Msg("Registered entity")

	if err := in.evaluate(ent); err != nil {
		return err
	}
	return in.drain()
}

// drain re-evaluates queued entities until the queue is empty.
func (in *Interpreter) drain() error {
	for {
		if err := in.checkContext(); err != nil {
			return err
		}
		ent, ok := in.registry.Next()
		if !ok {
			break
		}
		if ent.Evaluated() {
			continue
		}
		in.logger.Trace().Str("entity", ent.Key).Int("pass", ent.Passes+1).Msg("Re-evaluating entity")
		in.metrics.RecordReevaluation()
		if err := in.evaluate(ent); err != nil {
			return err
		}
	}
	in.metrics.SetBlockedEntities(float64(in.registry.Blocked()))
	return nil
}

// evaluate runs one collector pass over ent. Every property is evaluated
// in a fresh child of the declaring scope; pending reads are collected
// rather than raised, and the entity either completes or blocks.
func (in *Interpreter) evaluate(ent *engine.Entity) error {
	previous := ent.PendingTargets()
	ent.State = engine.StateEvaluating
	ent.Passes++

	p := newPassState(ent)
	in.pass = p
	defer func() { in.pass = nil }()

	scope := ent.Scope.Child()
	values := make(map[string]value.Value, len(ent.Properties))
	origins := make(map[string]string)

	for _, prop := range ent.Properties {
		if err := in.checkAssignable(ent, prop); err != nil {
			return err
		}
		ref, err := in.evalExpr(prop.Value, scope)
		if err != nil {
			return entityError(ent, err, prop.At)
		}
		switch r := ref.(type) {
		case engine.Pending:
			p.wait(r.Target, r.Provenance)
		case engine.Resolved:
			values[prop.Name] = r.Value
			scope.Define(prop.Name, r.Value)
			if r.Entity != nil {
				origins[prop.Name] = r.Entity.Key
			}
		}
	}

	for _, dep := range ent.DependsOn {
		ref, err := in.evalExpr(dep, scope)
		if err != nil {
			return entityError(ent, err, dep.Pos())
		}
		switch r := ref.(type) {
		case engine.Pending:
			p.wait(r.Target, engine.ProvenanceExplicit)
		case engine.Resolved:
			if r.Entity == nil {
				return entityError(ent, engine.NewEvaluationError(
					"depends_on entries must reference entities, not values", nil), dep.Pos())
			}
			p.read(r.Entity.Key)
		}
	}

	var tags value.Map
	if ent.Tags != nil {
		ref, err := in.evalExpr(ent.Tags, scope)
		if err != nil {
			return entityError(ent, err, ent.Tags.Pos())
		}
		switch r := ref.(type) {
		case engine.Pending:
			p.wait(r.Target, r.Provenance)
		case engine.Resolved:
			m, ok := r.Value.(value.Map)
			if !ok {
				return entityError(ent, engine.NewTypeMismatchError(
					fmt.Sprintf("tags must be a map, got %s", value.KindOf(r.Value))), ent.Tags.Pos())
			}
			tags = m
		}
	}

	invocations := make([]engine.Directive, 0, len(ent.Directives))
	for _, d := range ent.Directives {
		args := make(map[string]value.Value, len(d.Args))
		for _, arg := range d.Args {
			ref, err := in.evalExpr(arg.Value, scope)
			if err != nil {
				return entityError(ent, err, arg.At)
			}
			switch r := ref.(type) {
			case engine.Pending:
				p.wait(r.Target, r.Provenance)
			case engine.Resolved:
				args[arg.Name] = r.Value
			}
		}
		invocations = append(invocations, engine.Directive{Name: d.Name, Args: args, Pos: d.At})
	}

	ent.Values = values
	ent.Origins = origins
	ent.Pending = p.pending
	ent.Unresolved = len(p.pending)
	for _, prov := range p.pending {
		in.metrics.RecordPending(string(prov))
	}

	if in.graph.SetEdges(ent.Key, p.reads) {
		if err := in.cycles.DetectFrom(ent.Key); err != nil {
			return wrapPos(err, ent.Pos)
		}
	}
	in.registry.Sync(ent, previous)

	if ent.Unresolved > 0 {
		ent.State = engine.StateBlocked
		targets := ent.PendingTargets()
		in.metrics.RecordPass("blocked")
		in.logger.Debug().
			Str("entity", ent.Key).
			Strs("waiting_on", targets).
			Int("pass", ent.Passes).
			Msg("Entity blocked")
		in.events.PublishEntityBlocked(in.runID, ent.Key, targets)
		return nil
	}

	return in.complete(ent, tags, invocations)
}

// complete finishes an entity whose pass resolved everything, then
// notifies its observers.
func (in *Interpreter) complete(ent *engine.Entity, tags value.Map, invocations []engine.Directive) error {
	if ent.Schema != nil {
		for _, ps := range ent.Schema.Properties() {
			if _, set := ent.Values[ps.Name]; !set && !ps.Cloud && ps.Default != nil {
				ent.Values[ps.Name] = ps.Default
			}
			if ps.Sensitive {
				ent.Sensitive[ps.Name] = true
			}
		}
		names := make([]string, 0, len(ent.Values))
		for name := range ent.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ps, ok := ent.Schema.Property(name)
			if !ok || ps.Type.Accepts(ent.Values[name]) {
				continue
			}
			return entityError(ent, engine.NewTypeMismatchError(fmt.Sprintf(
				"property %q of %s expects %s, got %s",
				name, ent.Key, ps.Type, value.KindOf(ent.Values[name]))), ent.Pos)
		}
	}
	ent.TagValues = tags
	ent.Invocations = invocations

	if ent.Kind == engine.KindResource {
		for _, v := range in.validators {
			if err := v.ValidateEntity(in.ctx, ent); err != nil {
				return entityError(ent, engine.NewTypeMismatchError(
					fmt.Sprintf("%s failed schema validation", ent.Key)).WithCause(err), ent.Pos)
			}
		}
	}
	if err := in.invokeDirectives(ent); err != nil {
		return err
	}

	ent.State = engine.StateEvaluated
	in.metrics.RecordPass("evaluated")
	in.logger.Debug().
		Str("entity", ent.Key).
		Int("passes", ent.Passes).
		Int("properties", len(ent.Values)).
		Msg("Entity evaluated")
	in.events.PublishEntityEvaluated(in.runID, ent.Key, string(ent.Kind), ent.Passes)

	queued := in.registry.Notify(ent.Key)
	if ent.Path.Indexed() {
		queued += in.registry.Notify(ent.Path.BaseName())
	}
	if queued > 0 {
		in.logger.Trace().Str("entity", ent.Key).Int("queued", queued).Msg("Notified observers")
	}
	return nil
}

// checkAssignable rejects properties the entity's schema forbids.
func (in *Interpreter) checkAssignable(ent *engine.Entity, prop ast.Property) error {
	if ent.Schema == nil {
		return nil
	}
	ps, ok := ent.Schema.Property(prop.Name)
	if !ok {
		names := make([]string, 0)
		for _, p := range ent.Schema.Properties() {
			names = append(names, p.Name)
		}
		msg := fmt.Sprintf("%s %q has no property %q", ent.Kind, ent.Type, prop.Name)
		if s := engine.Suggest(prop.Name, names); s != "" {
			msg += fmt.Sprintf("; did you mean %q?", s)
		}
		return entityError(ent, engine.NewInvalidInitError(msg), prop.At)
	}
	if ps.Cloud {
		return entityError(ent, engine.NewInvalidInitError(fmt.Sprintf(
			"property %q of %s is computed by the provider and cannot be assigned", prop.Name, ent.Type)), prop.At)
	}
	return nil
}

// entityError attaches the entity and position to err unless it already
// carries them.
func entityError(ent *engine.Entity, err error, pos ast.Pos) error {
	e, ok := err.(*engine.EvalError)
	if !ok {
		return engine.NewEvaluationError(fmt.Sprintf("evaluating %s", ent.Key), err).
			WithEntity(ent.Key).WithPos(pos)
	}
	if e.Entity == "" {
		e.Entity = ent.Key
	}
	return e.WithPos(pos)
}
