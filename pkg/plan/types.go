package plan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cairnlang/cairn/pkg/value"
)

// Operation represents the type of change planned for an entity.
type Operation string

const (
	// OperationCreate indicates the entity has no applied state yet.
	OperationCreate Operation = "create"

	// OperationUpdate indicates the applied state differs.
	OperationUpdate Operation = "update"

	// OperationDelete indicates applied state no longer declared by the program.
	OperationDelete Operation = "delete"

	// OperationNoop indicates the applied state matches.
	OperationNoop Operation = "noop"
)

// Validate checks if the operation type is valid.
func (o Operation) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// Symbol is the one-character marker used in text output.
func (o Operation) Symbol() string {
	switch o {
	case OperationCreate:
		return "+"
	case OperationUpdate:
		return "~"
	case OperationDelete:
		return "-"
	default:
		return " "
	}
}

// priority orders operations inside one level: deletes first.
func (o Operation) priority() int {
	switch o {
	case OperationDelete:
		return 3
	case OperationCreate:
		return 2
	case OperationUpdate:
		return 1
	default:
		return 0
	}
}

// ChangeAction represents the type of change being made.
type ChangeAction string

const (
	// ChangeActionAdd indicates a new property is being added.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates a property is being removed.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates a property value is being changed.
	ChangeActionModify ChangeAction = "modify"
)

// Change is one property difference. Sensitive values are already masked.
type Change struct {
	// Path is the property name, or "type" for a type change.
	Path   string
	Action ChangeAction
	Before value.Value
	After  value.Value
}

// MarshalJSON renders the values as plain data.
func (c Change) MarshalJSON() ([]byte, error) {
	out := struct {
		Path   string       `json:"path"`
		Action ChangeAction `json:"action"`
		Before interface{}  `json:"before,omitempty"`
		After  interface{}  `json:"after,omitempty"`
	}{Path: c.Path, Action: c.Action}
	if c.Before != nil {
		out.Before = value.ToGo(c.Before)
	}
	if c.After != nil {
		out.After = value.ToGo(c.After)
	}
	return json.Marshal(out)
}

// Unit is the planned operation for one entity.
type Unit struct {
	Key       string    `json:"key"`
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	Operation Operation `json:"operation"`

	// Level is the entity's dependency level; units in one level are independent.
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies,omitempty"`
	Changes      []Change `json:"changes,omitempty"`

	// Checksum is the SHA256 of the canonical properties; PriorChecksum is
	// the applied one.
	Checksum      string `json:"checksum,omitempty"`
	PriorChecksum string `json:"prior_checksum,omitempty"`

	// Properties are the unmasked values recorded on apply.
	Properties value.Map `json:"-"`
}

// Summary counts units per operation.
type Summary struct {
	Total    int `json:"total"`
	ToCreate int `json:"to_create"`
	ToUpdate int `json:"to_update"`
	ToDelete int `json:"to_delete"`
	NoChange int `json:"no_change"`
}

// Plan is the diff between a run's finalized entities and the applied state.
type Plan struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	// Units are ordered for execution: deletes, dependents before their
	// dependencies, then the remaining units level by level.
	Units   []Unit  `json:"units"`
	Summary Summary `json:"summary"`

	// Levels groups the keys of changing units by dependency level.
	Levels [][]string `json:"levels"`
}

// HasChanges reports whether applying the plan would change state.
func (p *Plan) HasChanges() bool {
	return p.Summary.ToCreate+p.Summary.ToUpdate+p.Summary.ToDelete > 0
}

// Unit finds the unit for key.
func (p *Plan) Unit(key string) (*Unit, bool) {
	for i := range p.Units {
		if p.Units[i].Key == key {
			return &p.Units[i], true
		}
	}
	return nil, false
}

func (s *Summary) count(op Operation) {
	s.Total++
	switch op {
	case OperationCreate:
		s.ToCreate++
	case OperationUpdate:
		s.ToUpdate++
	case OperationDelete:
		s.ToDelete++
	case OperationNoop:
		s.NoChange++
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d to create, %d to update, %d to delete, %d unchanged",
		s.ToCreate, s.ToUpdate, s.ToDelete, s.NoChange)
}
