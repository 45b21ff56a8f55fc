package eval

import (
	"time"

	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/value"
)

// SensitiveMarker replaces sensitive values in printed output.
const SensitiveMarker = "(sensitive)"

// Output is a resolved top-level output.
type Output struct {
	Name        string      `json:"name"`
	Key         string      `json:"key"`
	Value       value.Value `json:"-"`
	Sensitive   bool        `json:"sensitive"`
	Description string      `json:"description,omitempty"`
}

// Display renders the value for printing, masking sensitive outputs.
func (o Output) Display() value.Value {
	if o.Sensitive {
		return value.String(SensitiveMarker)
	}
	return o.Value
}

// Stats summarizes a run.
type Stats struct {
	Entities int           `json:"entities"`
	Passes   int           `json:"passes"`
	Blocked  int           `json:"blocked_passes"`
	Levels   int           `json:"levels"`
	Duration time.Duration `json:"duration"`
}

// Result is everything a successful run produced.
type Result struct {
	RunID     string
	Inputs    map[string]value.Value
	Outputs   []Output
	Finalized *engine.Finalized
	Entities  *engine.EntityTable
	Graph     *engine.DependencyGraph
	Imports   []string
	Stats     Stats
}

// Output finds an output by name.
func (r *Result) Output(name string) (Output, bool) {
	for _, o := range r.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

// Entity finds an entity by registration key.
func (r *Result) Entity(key string) (*engine.Entity, bool) {
	return r.Entities.Get(key)
}

// Masked returns the entity's properties with sensitive values replaced.
func Masked(ent *engine.Entity) value.Map {
	snap := ent.Snapshot()
	if len(ent.Sensitive) == 0 {
		return snap
	}
	out := make(value.Map, len(snap))
	for k, v := range snap {
		if ent.Sensitive[k] || ent.Sensitive[AllProperties] {
			out[k] = value.String(SensitiveMarker)
			continue
		}
		out[k] = v
	}
	return out
}

func (in *Interpreter) result(fin *engine.Finalized, elapsed time.Duration) *Result {
	res := &Result{
		RunID:     in.runID,
		Inputs:    in.inputVal,
		Finalized: fin,
		Entities:  in.entities,
		Graph:     in.graph,
		Imports:   in.imports,
		Stats: Stats{
			Entities: in.entities.Len(),
			Levels:   len(fin.Levels),
			Duration: elapsed,
		},
	}
	for _, ent := range in.entities.All() {
		res.Stats.Passes += ent.Passes
		res.Stats.Blocked += ent.Passes - 1
	}

	for _, ent := range in.outputs {
		out := Output{
			Name:      ent.Path.Name,
			Key:       ent.Key,
			Value:     in.outputValue(ent),
			Sensitive: ent.Sensitive[engine.OutputValue],
		}
		if d, ok := ent.Metadata["description"].(value.String); ok {
			out.Description = string(d)
		}
		res.Outputs = append(res.Outputs, out)
	}
	return res
}

// outputValue reads an output, going back to the origin entity when the
// output expression was a bare entity reference.
func (in *Interpreter) outputValue(ent *engine.Entity) value.Value {
	if key, ok := ent.Origins[engine.OutputValue]; ok {
		if origin, ok := in.entities.Get(key); ok {
			if r, ok := engine.EntityRef(origin).(engine.Resolved); ok {
				return r.Value
			}
		}
	}
	if v, ok := ent.Values[engine.OutputValue]; ok {
		return v
	}
	return value.Null{}
}
