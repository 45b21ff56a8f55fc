package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a recorded run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one CLI invocation over a program
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"` // eval, validate, plan, apply
	Program     string     `json:"program"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	EntityCount int        `json:"entity_count"`
	Passes      int        `json:"passes"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
}

// EntitySnapshot is an entity as finalized by a run
type EntitySnapshot struct {
	RunID      string   `json:"run_id"`
	Key        string   `json:"key"`
	Kind       string   `json:"kind"`
	Type       string   `json:"type"`
	Position   int      `json:"position"`
	Level      int      `json:"level"`
	Properties string   `json:"properties"` // JSON blob, sensitive values masked
	DependsOn  []string `json:"depends_on"`
}

// OutputRecord is a top-level output of a run
type OutputRecord struct {
	RunID       string `json:"run_id"`
	Name        string `json:"name"`
	Value       string `json:"value"` // JSON blob, masked when sensitive
	Sensitive   bool   `json:"sensitive"`
	Description string `json:"description,omitempty"`
}

// Event represents an append-only log event
type Event struct {
	ID        string     `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Entity    *string    `json:"entity,omitempty"`
	Message   string     `json:"message"`
	Data      string     `json:"data"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// ResourceState is the applied state of one entity
type ResourceState struct {
	Key        string    `json:"key"`
	Type       string    `json:"type"`
	Kind       string    `json:"kind"`
	Properties string    `json:"properties"` // JSON blob
	Checksum   string    `json:"checksum"`   // SHA256 of the canonical properties
	DependsOn  []string  `json:"depends_on"`
	RunID      string    `json:"run_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Snapshot operations
	SaveEntities(ctx context.Context, runID string, entities []*EntitySnapshot) error
	ListEntities(ctx context.Context, runID string) ([]*EntitySnapshot, error)
	SaveOutputs(ctx context.Context, runID string, outputs []*OutputRecord) error
	ListOutputs(ctx context.Context, runID string) ([]*OutputRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// ResourceState operations
	ReplaceResourceStates(ctx context.Context, states []*ResourceState) error
	GetResourceState(ctx context.Context, key string) (*ResourceState, error)
	ListResourceStates(ctx context.Context) ([]*ResourceState, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
