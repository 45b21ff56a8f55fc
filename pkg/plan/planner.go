package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/stores"
	"github.com/cairnlang/cairn/pkg/value"
)

// StateStore reads and replaces the applied resource state.
type StateStore interface {
	ListResourceStates(ctx context.Context) ([]*stores.ResourceState, error)
	ReplaceResourceStates(ctx context.Context, states []*stores.ResourceState) error
}

// Planner computes differences between a run's finalized resources and
// the applied state, and records new state on apply. There are no
// providers: applying a plan only records what was planned.
type Planner struct {
	state  StateStore
	logger zerolog.Logger
}

// NewPlanner creates a planner over state.
func NewPlanner(state StateStore, logger zerolog.Logger) *Planner {
	return &Planner{
		state:  state,
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

// Checksum returns the SHA256 of the canonical rendering of props.
func Checksum(props value.Map) string {
	sum := sha256.Sum256([]byte(value.Canonical(props)))
	return hex.EncodeToString(sum[:])
}

// Plannable reports whether an entity is managed state. Outputs and
// component instances are not, nor are resources marked existing.
func Plannable(ent *engine.Entity) bool {
	if ent.Kind != engine.KindResource {
		return false
	}
	existing, ok := ent.Metadata["existing"].(value.Bool)
	return !ok || !bool(existing)
}

// Plan diffs res against the applied state.
func (p *Planner) Plan(ctx context.Context, res *eval.Result) (*Plan, error) {
	if res == nil || res.Finalized == nil {
		return nil, fmt.Errorf("evaluation result is nil")
	}

	prior, err := p.state.ListResourceStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied state: %w", err)
	}
	priorByKey := make(map[string]*stores.ResourceState, len(prior))
	for _, st := range prior {
		priorByKey[st.Key] = st
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		RunID:     res.RunID,
		CreatedAt: time.Now().UTC(),
	}

	declared := make(map[string]bool)
	var units []Unit
	for _, ent := range res.Finalized.Order {
		if !Plannable(ent) {
			continue
		}
		declared[ent.Key] = true

		unit, err := diffEntity(ent, res.Finalized.Nodes[ent.Key], priorByKey[ent.Key])
		if err != nil {
			return nil, fmt.Errorf("failed to compute diff for %s: %w", ent.Key, err)
		}
		units = append(units, unit)
	}

	var deletes []Unit
	for _, st := range prior {
		if declared[st.Key] {
			continue
		}
		deletes = append(deletes, Unit{
			Key:           st.Key,
			Type:          st.Type,
			Kind:          st.Kind,
			Operation:     OperationDelete,
			Dependencies:  st.DependsOn,
			PriorChecksum: st.Checksum,
		})
	}
	orderDeletes(deletes)

	plan.Units = append(deletes, units...)
	sortUnits(plan.Units[len(deletes):])
	for _, u := range plan.Units {
		plan.Summary.count(u.Operation)
	}
	plan.Levels = changeLevels(units)

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Str("run_id", plan.RunID).
		Int("create", plan.Summary.ToCreate).
		Int("update", plan.Summary.ToUpdate).
		Int("delete", plan.Summary.ToDelete).
		Msg("Plan computed")

	return plan, nil
}

// diffEntity computes the unit for one declared resource.
func diffEntity(ent *engine.Entity, node *engine.GraphNode, prior *stores.ResourceState) (Unit, error) {
	props := ent.Snapshot()
	unit := Unit{
		Key:        ent.Key,
		Type:       ent.Type,
		Kind:       string(ent.Kind),
		Checksum:   Checksum(props),
		Properties: props,
	}
	if node != nil {
		unit.Level = node.Level
		unit.Dependencies = node.Dependencies
	}

	if prior == nil {
		unit.Operation = OperationCreate
		for _, k := range props.Keys() {
			unit.Changes = append(unit.Changes, Change{
				Path:   k,
				Action: ChangeActionAdd,
				After:  mask(ent, k, props[k]),
			})
		}
		return unit, nil
	}

	unit.PriorChecksum = prior.Checksum
	if prior.Checksum == unit.Checksum && prior.Type == ent.Type {
		unit.Operation = OperationNoop
		return unit, nil
	}

	before, err := decodeProperties(prior.Properties)
	if err != nil {
		return Unit{}, err
	}
	unit.Operation = OperationUpdate
	if prior.Type != ent.Type {
		unit.Changes = append(unit.Changes, Change{
			Path:   "type",
			Action: ChangeActionModify,
			Before: value.String(prior.Type),
			After:  value.String(ent.Type),
		})
	}
	unit.Changes = append(unit.Changes, diffProperties(ent, before, props)...)
	return unit, nil
}

// diffProperties lists property changes in key order.
func diffProperties(ent *engine.Entity, before, after value.Map) []Change {
	keys := make(map[string]bool, len(before)+len(after))
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}

	var changes []Change
	for _, k := range value.SortedKeys(keys) {
		b, hadBefore := before[k]
		a, hasAfter := after[k]
		switch {
		case !hadBefore:
			changes = append(changes, Change{Path: k, Action: ChangeActionAdd, After: mask(ent, k, a)})
		case !hasAfter:
			changes = append(changes, Change{Path: k, Action: ChangeActionRemove, Before: mask(ent, k, b)})
		case !value.Equal(b, a):
			changes = append(changes, Change{Path: k, Action: ChangeActionModify, Before: mask(ent, k, b), After: mask(ent, k, a)})
		}
	}
	return changes
}

func mask(ent *engine.Entity, prop string, v value.Value) value.Value {
	if ent.Sensitive[prop] || ent.Sensitive[eval.AllProperties] {
		return value.String(eval.SensitiveMarker)
	}
	return v
}

// decodeProperties reads stored properties, restoring unknown markers.
func decodeProperties(data string) (value.Map, error) {
	v, err := value.UnmarshalJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode applied properties: %w", err)
	}
	m, ok := restoreUnknown(v).(value.Map)
	if !ok {
		return value.Map{}, nil
	}
	return m, nil
}

func restoreUnknown(v value.Value) value.Value {
	switch tv := v.(type) {
	case value.String:
		if string(tv) == value.UnknownMarker {
			return value.Unknown{}
		}
	case value.List:
		out := make(value.List, len(tv))
		for i, e := range tv {
			out[i] = restoreUnknown(e)
		}
		return out
	case value.Map:
		out := make(value.Map, len(tv))
		for k, e := range tv {
			out[k] = restoreUnknown(e)
		}
		return out
	}
	return v
}

// orderDeletes puts dependents before their dependencies, using the
// dependency depth recorded in the applied state.
func orderDeletes(units []Unit) {
	byKey := make(map[string]*Unit, len(units))
	for i := range units {
		byKey[units[i].Key] = &units[i]
	}
	depth := make(map[string]int, len(units))
	var visit func(key string, stack map[string]bool) int
	visit = func(key string, stack map[string]bool) int {
		if d, ok := depth[key]; ok {
			return d
		}
		if stack[key] {
			return 0
		}
		stack[key] = true
		d := 0
		for _, dep := range byKey[key].Dependencies {
			if _, ok := byKey[dep]; ok {
				if dd := visit(dep, stack) + 1; dd > d {
					d = dd
				}
			}
		}
		delete(stack, key)
		depth[key] = d
		return d
	}
	for key := range byKey {
		visit(key, map[string]bool{})
	}
	for i := range units {
		units[i].Level = depth[units[i].Key]
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Level != units[j].Level {
			return units[i].Level > units[j].Level
		}
		return units[i].Key < units[j].Key
	})
}

// sortUnits orders units by level, then operation priority. Finalized
// order is kept inside equal groups.
func sortUnits(units []Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Level != units[j].Level {
			return units[i].Level < units[j].Level
		}
		return units[i].Operation.priority() > units[j].Operation.priority()
	})
}

// changeLevels groups changing units by level with sorted keys.
func changeLevels(units []Unit) [][]string {
	byLevel := make(map[int][]string)
	maxLevel := -1
	for _, u := range units {
		if u.Operation == OperationNoop {
			continue
		}
		byLevel[u.Level] = append(byLevel[u.Level], u.Key)
		if u.Level > maxLevel {
			maxLevel = u.Level
		}
	}
	levels := [][]string{}
	for l := 0; l <= maxLevel; l++ {
		if keys, ok := byLevel[l]; ok {
			sort.Strings(keys)
			levels = append(levels, keys)
		}
	}
	return levels
}

// Validate checks a plan for correctness before it is applied.
func Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	seen := make(map[string]bool, len(p.Units))
	for _, u := range p.Units {
		if u.Key == "" {
			return fmt.Errorf("plan %s has a unit with an empty key", p.ID)
		}
		if seen[u.Key] {
			return fmt.Errorf("plan %s has duplicate units for %s", p.ID, u.Key)
		}
		seen[u.Key] = true
		if err := u.Operation.Validate(); err != nil {
			return fmt.Errorf("invalid unit %s: %w", u.Key, err)
		}
		if u.Operation != OperationDelete && u.Properties == nil {
			return fmt.Errorf("invalid unit %s: no properties to record", u.Key)
		}
	}
	return nil
}

// Apply records the planned state: every unit except deletes becomes the
// new applied state, replacing what was there.
func (p *Planner) Apply(ctx context.Context, plan *Plan) ([]*stores.ResourceState, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	states := make([]*stores.ResourceState, 0, len(plan.Units))
	for _, u := range plan.Units {
		if u.Operation == OperationDelete {
			continue
		}
		data, err := value.MarshalJSON(u.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", u.Key, err)
		}
		states = append(states, &stores.ResourceState{
			Key:        u.Key,
			Type:       u.Type,
			Kind:       u.Kind,
			Properties: string(data),
			Checksum:   u.Checksum,
			DependsOn:  u.Dependencies,
			RunID:      plan.RunID,
			UpdatedAt:  now,
		})
	}

	if err := p.state.ReplaceResourceStates(ctx, states); err != nil {
		return nil, fmt.Errorf("failed to record state: %w", err)
	}

	p.logger.Info().
		Str("plan_id", plan.ID).
		Int("resources", len(states)).
		Str("summary", plan.Summary.String()).
		Msg("State recorded")

	return states, nil
}
