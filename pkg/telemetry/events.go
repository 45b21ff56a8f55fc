package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of a run's event stream.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Source is the subsystem that emitted the event.
	Source string `json:"source"`

	RunID string `json:"run_id,omitempty"`

	// Entity is the key of the entity the event concerns, if any.
	Entity string `json:"entity,omitempty"`

	Message string `json:"message"`

	// Level is info, warning or error.
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeEntityEvaluated = "entity.evaluated"
	EventTypeEntityBlocked   = "entity.blocked"
	EventTypeCycleDetected   = "cycle.detected"
	EventTypePolicyViolation = "policy.violation"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles delivered events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events synchronously to subscribers and keeps
// the most recent BufferSize events for later persistence.
type EventPublisher struct {
	config      EventsConfig
	mu          sync.RWMutex
	subscribers []subscriberEntry
	filters     []EventFilter
	history     []Event
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Publish stamps event and delivers it to every matching subscriber. A nil
// or disabled publisher drops it.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil || !ep.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.Lock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.Unlock()
			return
		}
	}
	ep.history = append(ep.history, event)
	if over := len(ep.history) - ep.config.BufferSize; ep.config.BufferSize > 0 && over > 0 {
		ep.history = append([]Event(nil), ep.history[over:]...)
	}
	subs := append([]subscriberEntry(nil), ep.subscribers...)
	ep.mu.Unlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, program string) {
	ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "eval",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started for %s", runID, program),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"program": program},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) {
	ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "eval",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) {
	ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "eval",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"reason": reason},
	})
}

// PublishEntityEvaluated publishes an entity evaluated event.
func (ep *EventPublisher) PublishEntityEvaluated(runID, key, kind string, passes int) {
	ep.Publish(Event{
		Type:    EventTypeEntityEvaluated,
		Source:  "eval",
		RunID:   runID,
		Entity:  key,
		Message: fmt.Sprintf("Entity %s evaluated after %d passes", key, passes),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"kind":   kind,
			"passes": passes,
		},
	})
}

// PublishEntityBlocked publishes an event for an entity waiting on names.
func (ep *EventPublisher) PublishEntityBlocked(runID, key string, waitingOn []string) {
	ep.Publish(Event{
		Type:    EventTypeEntityBlocked,
		Source:  "eval",
		RunID:   runID,
		Entity:  key,
		Message: fmt.Sprintf("Entity %s waiting on %s", key, strings.Join(waitingOn, ", ")),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"waiting_on": waitingOn},
	})
}

// PublishCycleDetected publishes a dependency cycle event.
func (ep *EventPublisher) PublishCycleDetected(runID string, cycle []string) {
	ep.Publish(Event{
		Type:    EventTypeCycleDetected,
		Source:  "eval",
		RunID:   runID,
		Message: fmt.Sprintf("Dependency cycle: %s", strings.Join(cycle, " -> ")),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"cycle": cycle},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(runID, key, policyName, severity, reason string) {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		RunID:   runID,
		Entity:  key,
		Message: fmt.Sprintf("Policy violation on %s: %s - %s", key, policyName, reason),
		Level:   level,
		Data: map[string]interface{}{
			"policy":   policyName,
			"severity": severity,
			"reason":   reason,
		},
	})
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a filter applied before recording and delivery.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// Events returns the recorded events matching filter, oldest first.
func (ep *EventPublisher) Events(filter EventFilter) []Event {
	if ep == nil {
		return nil
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	out := make([]Event, 0, len(ep.history))
	for _, e := range ep.history {
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	return out
}

// FilterByLevel allows events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	min := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= min
	}
}

// FilterByType allows events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByRunID allows events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
