package engine

import (
	"encoding/json"
	"fmt"
)

// EntityState is the evaluation state of an entity.
type EntityState string

const (
	// StateNotStarted indicates the entity is registered but no pass has run.
	StateNotStarted EntityState = "not_started"

	// StateEvaluating indicates a pass over the entity is in progress.
	StateEvaluating EntityState = "evaluating"

	// StateBlocked indicates the last pass ended with unresolved dependencies.
	StateBlocked EntityState = "blocked"

	// StateEvaluated indicates every property resolved. This state is final.
	StateEvaluated EntityState = "evaluated"
)

// IsTerminal returns true if no further passes will run for the entity.
func (s EntityState) IsTerminal() bool {
	return s == StateEvaluated
}

// Validate checks if the entity state is valid.
func (s EntityState) Validate() error {
	switch s {
	case StateNotStarted, StateEvaluating, StateBlocked, StateEvaluated:
		return nil
	default:
		return fmt.Errorf("invalid entity state: %s", s)
	}
}

// EntityKind distinguishes the entities tracked by the engine.
type EntityKind string

const (
	// KindResource is a declared resource.
	KindResource EntityKind = "resource"

	// KindComponent is a component instance.
	KindComponent EntityKind = "component"

	// KindOutput is an output declaration, top level or inside a component.
	KindOutput EntityKind = "output"
)

// Validate checks if the entity kind is valid.
func (k EntityKind) Validate() error {
	switch k {
	case KindResource, KindComponent, KindOutput:
		return nil
	default:
		return fmt.Errorf("invalid entity kind: %s", k)
	}
}

// Provenance records where a pending reference was raised.
type Provenance string

const (
	// ProvenanceProperty is a property expression naming an unresolved entity.
	ProvenanceProperty Provenance = "property"

	// ProvenanceExplicit is an explicit depends_on entry.
	ProvenanceExplicit Provenance = "explicit"

	// ProvenanceChained is member or index access on an already pending value.
	ProvenanceChained Provenance = "chained"
)

// Validate checks if the provenance is valid.
func (p Provenance) Validate() error {
	switch p {
	case ProvenanceProperty, ProvenanceExplicit, ProvenanceChained:
		return nil
	default:
		return fmt.Errorf("invalid provenance: %s", p)
	}
}

// RunStatus represents the overall status of an evaluation run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run finalized every entity.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run aborted with an error.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the user.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
