package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cairnlang/cairn/pkg/config"
	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/loader"
	"github.com/cairnlang/cairn/pkg/policy"
	"github.com/cairnlang/cairn/pkg/stores"
	"github.com/cairnlang/cairn/pkg/telemetry"
	"github.com/cairnlang/cairn/pkg/value"
)

// runFlags are shared by every command that evaluates a program.
type runFlags struct {
	vars       []string
	varsFile   string
	schemas    []string
	validators []string
	policies   []string
	state      string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "set an input value (name=value, repeatable)")
	cmd.Flags().StringVar(&f.varsFile, "vars-file", "", "YAML or JSON file of input values")
	cmd.Flags().StringSliceVar(&f.schemas, "schema", nil, "CUE schema files or globs")
	cmd.Flags().StringArrayVar(&f.validators, "validator", nil, "register a Starlark validator (name=path, repeatable)")
	cmd.Flags().StringSliceVar(&f.policies, "policy", nil, "Rego policy files, directories or globs")
	cmd.Flags().StringVar(&f.state, "state", "", "state database path")
}

// session is the resolved setup of one command: run configuration with
// flags applied, telemetry and, when opened, the state database.
type session struct {
	fs     afero.Fs
	cfg    *config.RunConfig
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	store  *stores.SQLiteStore

	program    string
	inputs     map[string]value.Value
	schemas    []string
	validators map[string]string
	policies   []string
	statePath  string
}

func newSession(f *runFlags, args []string) (*session, error) {
	fs := afero.NewOsFs()

	cfg, err := loadRunConfig(fs)
	if err != nil {
		return nil, err
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &session{
		fs:         fs,
		cfg:        cfg,
		tel:        tel,
		logger:     tel.Logger.Zerolog(),
		program:    cfg.Resolve(cfg.Program),
		schemas:    append(cfg.ResolveAll(cfg.Schemas), f.schemas...),
		validators: make(map[string]string, len(cfg.Validators)),
		policies:   append(cfg.ResolveAll(cfg.Policy.Paths), f.policies...),
		statePath:  cfg.Resolve(cfg.State.Path),
	}
	if len(args) > 0 {
		s.program = args[0]
	}
	if f.state != "" {
		s.statePath = f.state
	}

	for name, path := range cfg.Validators {
		s.validators[name] = cfg.Resolve(path)
	}
	for _, spec := range f.validators {
		name, path, err := splitAssignment(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid --validator: %w", err)
		}
		s.validators[name] = path
	}

	if s.inputs, err = resolveInputs(fs, cfg, f); err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	s.logger.Debug().
		Str("program", s.program).
		Str("state", s.statePath).
		Int("inputs", len(s.inputs)).
		Int("schemas", len(s.schemas)).
		Int("policies", len(s.policies)).
		Msg("Session configured")

	return s, nil
}

// loadRunConfig reads --config, else cairn.yaml or cairn.cue in the working
// directory, else the defaults.
func loadRunConfig(fs afero.Fs) (*config.RunConfig, error) {
	path := configPath
	if path == "" {
		for _, candidate := range []string{config.DefaultFile, "cairn.cue"} {
			if ok, _ := afero.Exists(fs, candidate); ok {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return config.DefaultRunConfig(), nil
	}
	return config.LoadRunConfig(fs, path)
}

func newTelemetry(cfg *config.RunConfig) (*telemetry.Telemetry, error) {
	tc := cfg.Telemetry
	if buildVersion != "" {
		tc.ServiceVersion = buildVersion
	}
	tc.Logging.Level = resolveLogLevel(tc.Logging.Level)
	if tc.Logging.Format == "console" && !stdoutIsTerminal() {
		tc.Logging.NoColor = true
	}
	return telemetry.NewTelemetry(&tc)
}

// resolveLogLevel applies --log-level, then LOG_LEVEL, then --verbose.
func resolveLogLevel(configured string) string {
	switch {
	case logLevel != "":
		return logLevel
	case os.Getenv("LOG_LEVEL") != "":
		return os.Getenv("LOG_LEVEL")
	case verbose:
		return "debug"
	case configured == "":
		return "info"
	}
	return configured
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// resolveInputs layers configured inputs, then --vars-file, then --var.
func resolveInputs(fs afero.Fs, cfg *config.RunConfig, f *runFlags) (map[string]value.Value, error) {
	inputs, err := cfg.InputValues()
	if err != nil {
		return nil, err
	}

	if f.varsFile != "" {
		fileVars, err := loadVarsFile(fs, f.varsFile)
		if err != nil {
			return nil, err
		}
		for name, v := range fileVars {
			inputs[name] = v
		}
	}

	flagVars, err := parseVars(f.vars)
	if err != nil {
		return nil, err
	}
	for name, v := range flagVars {
		inputs[name] = v
	}
	return inputs, nil
}

// parseVars decodes name=value pairs. Values are read as YAML scalars or
// flow collections, so "3" is a number and "[a, b]" a list.
func parseVars(specs []string) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(specs))
	for _, spec := range specs {
		name, raw, err := splitAssignment(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid --var: %w", err)
		}
		v, err := decodeVar(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --var %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func decodeVar(raw string) (value.Value, error) {
	if strings.TrimSpace(raw) == "" {
		return value.String(raw), nil
	}
	var decoded interface{}
	if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
		return value.String(raw), nil
	}
	return value.FromGo(decoded)
}

func loadVarsFile(fs afero.Fs, path string) (map[string]value.Value, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vars file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse vars file %s: %w", path, err)
	}
	out := make(map[string]value.Value, len(raw))
	for name, v := range raw {
		conv, err := value.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("vars file %s: input %q: %w", path, name, err)
		}
		out[name] = conv
	}
	return out, nil
}

func splitAssignment(spec string) (string, string, error) {
	name, val, ok := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("expected name=value, got %q", spec)
	}
	return name, val, nil
}

// openStore opens and migrates the state database. When required is false
// a failure is logged and the command runs without history.
func (s *session) openStore(ctx context.Context, required bool) error {
	store, err := openStateDB(ctx, s.fs, s.statePath)
	if err != nil {
		if required {
			return err
		}
		s.logger.Warn().Err(err).Str("path", s.statePath).Msg("Run history disabled")
		return nil
	}
	s.store = store
	return nil
}

func openStateDB(ctx context.Context, fs afero.Fs, path string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the state database and flushes telemetry.
func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close state database")
		}
	}
	if err := s.tel.Shutdown(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// evaluate loads the program with every import and runs it.
func (s *session) evaluate(ctx context.Context, runID string) (*eval.Result, error) {
	prog, err := loader.New(s.fs, loader.WithLogger(s.logger)).Load(s.program)
	if err != nil {
		return nil, err
	}

	schemas := config.NewSchemaRegistry()
	if len(s.schemas) > 0 {
		files, err := loader.Glob(s.fs, s.schemas...)
		if err != nil {
			return nil, fmt.Errorf("failed to expand schema paths: %w", err)
		}
		if err := schemas.LoadFiles(s.fs, files...); err != nil {
			return nil, err
		}
	}

	directives := eval.NewDirectiveRegistry()
	handlers, err := config.LoadScriptDirectives(s.fs, s.validators, config.DefaultScriptTimeout)
	if err != nil {
		return nil, err
	}
	for _, h := range handlers {
		if err := directives.Register(h); err != nil {
			return nil, err
		}
	}

	return eval.New(eval.Options{
		Logger:     s.logger,
		RunID:      runID,
		Inputs:     s.inputs,
		Schemas:    schemas,
		Directives: directives,
		Validators: []eval.EntityValidator{schemas},
		Version:    buildVersion,
		Metrics:    s.tel.Metrics,
		Tracer:     s.tel.Tracer,
		Events:     s.tel.Events,
	}).Run(ctx, prog)
}

// run evaluates the program and then calls body with the result. The run
// is recorded in the history when the state database is open, whether or
// not it succeeds.
func (s *session) run(ctx context.Context, command string, body func(ctx context.Context, res *eval.Result) error) (*eval.Result, error) {
	runID := uuid.New().String()

	var (
		rec    *stores.Recorder
		record *stores.Run
	)
	if s.store != nil {
		rec = stores.NewRecorder(s.store, s.logger)
		r, err := rec.Begin(ctx, runID, command, s.program)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record run")
			rec = nil
		}
		record = r
	}

	res, err := s.evaluate(ctx, runID)
	if err == nil && body != nil {
		err = body(ctx, res)
	}

	if rec != nil {
		events := s.tel.Events.Events(telemetry.FilterByRunID(runID))
		if ferr := rec.Finish(context.WithoutCancel(ctx), record, res, events, err); ferr != nil {
			s.logger.Warn().Err(ferr).Str("run_id", runID).Msg("Failed to record run")
		}
	}
	return res, err
}

// policyEngine builds the engine with the built-ins and the configured
// user policies.
func (s *session) policyEngine(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(s.logger, policy.Config{
		RequiredTags: s.cfg.Policy.RequiredTags,
		Disabled:     s.cfg.Policy.Disabled,
		Metrics:      s.tel.Metrics,
		Tracer:       s.tel.Tracer,
		Events:       s.tel.Events,
	})
	if err != nil {
		return nil, err
	}
	if len(s.policies) > 0 {
		if err := eng.LoadPolicies(ctx, s.fs, s.policies); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func (s *session) failOn() (policy.Severity, error) {
	return policy.ParseSeverity(s.cfg.Policy.FailOn)
}

// checkPolicies evaluates res and fails when a violation reaches the
// configured severity.
func (s *session) checkPolicies(ctx context.Context, eng *policy.Engine, res *eval.Result) (*policy.Result, error) {
	threshold, err := s.failOn()
	if err != nil {
		return nil, err
	}
	pr, err := eng.Evaluate(ctx, res.RunID, res.Finalized)
	if err != nil {
		return nil, err
	}
	if len(pr.Errors) > 0 {
		sort.Strings(pr.Errors)
		return pr, fmt.Errorf("%d policy evaluation error(s): %s", len(pr.Errors), strings.Join(pr.Errors, "; "))
	}
	return pr, pr.Err(threshold)
}
