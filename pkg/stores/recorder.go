package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/telemetry"
	"github.com/cairnlang/cairn/pkg/value"
)

// Recorder writes run history: the run row, the finalized entity snapshots,
// the outputs and the events published during the run.
type Recorder struct {
	store  Store
	logger zerolog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

// Begin records a run in the running state.
func (r *Recorder) Begin(ctx context.Context, runID, command, program string) (*Run, error) {
	run := &Run{
		ID:        runID,
		Command:   command,
		Program:   program,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	r.logger.Debug().Str("run_id", runID).Str("command", command).Msg("Run recorded")
	return run, nil
}

// Finish stores what the run produced and its final status. res may be nil
// when evaluation failed; runErr is then recorded on the run.
func (r *Recorder) Finish(ctx context.Context, run *Run, res *eval.Result, events []telemetry.Event, runErr error) error {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.DurationMS = now.Sub(run.StartedAt).Milliseconds()
	run.Status = RunStatusCompleted
	if runErr != nil {
		run.Status = RunStatusFailed
		msg := runErr.Error()
		run.Error = &msg
	}

	if res != nil {
		run.EntityCount = res.Stats.Entities
		run.Passes = res.Stats.Passes

		snapshots, err := Snapshots(res)
		if err != nil {
			return err
		}
		if err := r.store.SaveEntities(ctx, run.ID, snapshots); err != nil {
			return err
		}
		outputs, err := Outputs(res)
		if err != nil {
			return err
		}
		if err := r.store.SaveOutputs(ctx, run.ID, outputs); err != nil {
			return err
		}
	}

	for _, e := range events {
		if err := r.store.AppendEvent(ctx, FromTelemetry(e)); err != nil {
			return err
		}
	}

	if err := r.store.CompleteRun(ctx, run); err != nil {
		return err
	}
	r.logger.Debug().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("events", len(events)).
		Msg("Run completed")
	return nil
}

// Snapshots converts the finalized entities of a result, masking
// sensitive properties.
func Snapshots(res *eval.Result) ([]*EntitySnapshot, error) {
	out := make([]*EntitySnapshot, 0, len(res.Finalized.Order))
	for i, ent := range res.Finalized.Order {
		props, err := value.MarshalJSON(eval.Masked(ent))
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", ent.Key, err)
		}
		snap := &EntitySnapshot{
			RunID:      res.RunID,
			Key:        ent.Key,
			Kind:       string(ent.Kind),
			Type:       ent.Type,
			Position:   i,
			Properties: string(props),
		}
		if node, ok := res.Finalized.Nodes[ent.Key]; ok {
			snap.Level = node.Level
			snap.DependsOn = node.Dependencies
		}
		out = append(out, snap)
	}
	return out, nil
}

// Outputs converts the outputs of a result, masking sensitive values.
func Outputs(res *eval.Result) ([]*OutputRecord, error) {
	out := make([]*OutputRecord, 0, len(res.Outputs))
	for _, o := range res.Outputs {
		data, err := value.MarshalJSON(o.Display())
		if err != nil {
			return nil, fmt.Errorf("failed to encode output %s: %w", o.Name, err)
		}
		out = append(out, &OutputRecord{
			RunID:       res.RunID,
			Name:        o.Name,
			Value:       string(data),
			Sensitive:   o.Sensitive,
			Description: o.Description,
		})
	}
	return out, nil
}

// FromTelemetry converts a published event into its stored form.
func FromTelemetry(e telemetry.Event) *Event {
	out := &Event{
		ID:        e.ID,
		Type:      e.Type,
		Level:     EventLevel(e.Level),
		Message:   e.Message,
		Data:      "{}",
		Timestamp: e.Timestamp.UTC(),
	}
	if e.RunID != "" {
		runID := e.RunID
		out.RunID = &runID
	}
	if e.Entity != "" {
		entity := e.Entity
		out.Entity = &entity
	}
	if len(e.Data) > 0 {
		if data, err := json.Marshal(e.Data); err == nil {
			out.Data = string(data)
		}
	}
	return out
}
