package eval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty/function"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/telemetry"
	"github.com/cairnlang/cairn/pkg/value"
)

// EntityValidator checks an entity once all of its properties resolved.
// A failure is reported as a type mismatch.
type EntityValidator interface {
	ValidateEntity(ctx context.Context, ent *engine.Entity) error
}

// Options configures an Interpreter.
type Options struct {
	// Logger receives registration, pass and error logs.
	Logger zerolog.Logger

	// RunID identifies the run in events and spans. Generated when empty.
	RunID string

	// Inputs supplies values for top-level input declarations.
	Inputs map[string]value.Value

	// Schemas resolves resource types that no schema block declares.
	Schemas engine.SchemaSource

	// Directives resolves directive names. Defaults to the built-ins.
	Directives *DirectiveRegistry

	// Validators run against every evaluated resource.
	Validators []EntityValidator

	// Version is checked against required_version settings. Empty skips the check.
	Version string

	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Events  *telemetry.EventPublisher
}

// Interpreter walks one program. It owns all run state: the root scope,
// the entity table, the edge table and the observer registry. Create one
// per run with New.
type Interpreter struct {
	logger     zerolog.Logger
	runID      string
	inputs     map[string]value.Value
	schemas    engine.SchemaSource
	directives *DirectiveRegistry
	validators []EntityValidator
	version    string
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	events     *telemetry.EventPublisher

	root       *engine.Environment
	entities   *engine.EntityTable
	graph      *engine.DependencyGraph
	cycles     *engine.CycleDetector
	registry   *engine.ObserverRegistry
	functions  map[string]function.Function
	components map[string]*ast.ComponentDef
	local      engine.SchemaSet

	componentSchemas map[string]*engine.TypeSchema

	ctx      context.Context
	pass     *passState
	outputs  []*engine.Entity
	inputVal map[string]value.Value
	imports  []string

	// walked holds the files already walked; a file imported along two
	// paths is walked once.
	walked map[string]bool
}

// New creates an interpreter with fresh run state.
func New(opts Options) *Interpreter {
	root := engine.NewRootEnvironment()
	graph := engine.NewDependencyGraph()

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	directives := opts.Directives
	if directives == nil {
		directives = NewDirectiveRegistry()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	return &Interpreter{
		logger:     opts.Logger.With().Str("component", "eval").Str("run_id", runID).Logger(),
		runID:      runID,
		inputs:     opts.Inputs,
		schemas:    opts.Schemas,
		directives: directives,
		validators: opts.Validators,
		version:    opts.Version,
		metrics:    opts.Metrics,
		tracer:     tracer,
		events:     opts.Events,
		root:       root,
		entities:   root.Entities(),
		graph:      graph,
		cycles:     engine.NewCycleDetector(graph),
		registry:   engine.NewObserverRegistry(),
		functions:  Functions(),
		components: make(map[string]*ast.ComponentDef),
		local:      make(engine.SchemaSet),
		inputVal:   make(map[string]value.Value),
		walked:     make(map[string]bool),

		componentSchemas: make(map[string]*engine.TypeSchema),
	}
}

// RunID returns the identifier of this run.
func (in *Interpreter) RunID() string {
	return in.runID
}

// Run walks program, drains every re-evaluation and finalizes the entity
// graph. Any error aborts the run.
func (in *Interpreter) Run(ctx context.Context, program *ast.Program) (result *Result, err error) {
	start := time.Now()
	ctx, span := in.tracer.StartSpan(ctx, "run",
		attribute.String("run.id", in.runID),
		attribute.String("program", program.File),
	)
	defer span.End()
	in.ctx = ctx

	in.metrics.RecordRunStarted()
	in.events.PublishRunStarted(in.runID, program.File)
	in.logger.Info().Str("program", program.File).Msg("Starting evaluation")

	defer func() {
		status := string(engine.RunStatusSucceeded)
		if err != nil {
			status = string(engine.RunStatusFailed)
			in.fail(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		in.metrics.RecordRunCompleted(status, time.Since(start))
		in.events.PublishRunCompleted(in.runID, status, time.Since(start))
	}()

	in.walked[program.File] = true
	top := frame{scope: in.root, file: ""}
	if err := in.walkProgram(top, program); err != nil {
		return nil, err
	}

	finalized, err := in.finalize(ctx)
	if err != nil {
		return nil, err
	}

	result = in.result(finalized, time.Since(start))
	in.logger.Info().
		Int("entities", in.entities.Len()).
		Int("levels", len(finalized.Levels)).
		Dur("duration", result.Stats.Duration).
		Msg("Evaluation completed")
	return result, nil
}

func (in *Interpreter) finalize(ctx context.Context) (*engine.Finalized, error) {
	_, span := in.tracer.StartSpan(ctx, "finalize")
	defer span.End()

	fin, err := engine.NewFinalizer(in.entities, in.graph).Finalize()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, attribute.Int("levels", len(fin.Levels)))
	return fin, nil
}

// fail reports err on every channel the run was configured with.
func (in *Interpreter) fail(span trace.Span, err error) {
	kind := engine.KindOf(err)
	in.logger.Error().Err(err).Str("kind", string(kind)).Msg("Evaluation failed")
	in.metrics.RecordError(string(kind))
	telemetry.RecordError(span, err)
	in.events.PublishRunFailed(in.runID, err.Error())
	if engine.IsCycle(err) {
		in.metrics.RecordCycle()
		var cycle []string
		var e *engine.EvalError
		if errors.As(err, &e) {
			cycle = e.Cycle
		}
		in.events.PublishCycleDetected(in.runID, cycle)
	}
}

// checkContext aborts between queue drains once ctx is cancelled.
func (in *Interpreter) checkContext() error {
	if in.ctx == nil {
		return nil
	}
	if err := in.ctx.Err(); err != nil {
		return engine.NewEvaluationError("evaluation cancelled", err)
	}
	return nil
}

// schemaFor resolves typeName against program schema blocks first.
func (in *Interpreter) schemaFor(typeName string) *engine.TypeSchema {
	if s, ok := in.local.Overlay(in.schemas).Schema(typeName); ok {
		return s
	}
	return nil
}

func wrapPos(err error, pos ast.Pos) error {
	if e, ok := err.(*engine.EvalError); ok {
		return e.WithPos(pos)
	}
	return err
}

func errorf(kind engine.ErrorKind, pos ast.Pos, format string, args ...interface{}) *engine.EvalError {
	msg := fmt.Sprintf(format, args...)
	var e *engine.EvalError
	switch kind {
	case engine.ErrorKindNotFound:
		e = engine.NewNotFoundError(msg)
	case engine.ErrorKindInvalidInit:
		e = engine.NewInvalidInitError(msg)
	case engine.ErrorKindTypeMismatch:
		e = engine.NewTypeMismatchError(msg)
	default:
		e = engine.NewEvaluationError(msg, nil)
	}
	return e.WithPos(pos)
}
