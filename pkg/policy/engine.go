package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/telemetry"
	"github.com/cairnlang/cairn/pkg/value"
)

// Config configures an Engine.
type Config struct {
	// RequiredTags enables the required-tags policy with these tags.
	RequiredTags []string

	// Disabled names policies, built-in or loaded, that never run.
	Disabled []string

	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Events  *telemetry.EventPublisher
}

// Engine evaluates Rego policies against finalized entities. Each policy's
// deny set is queried once per entity with that entity as input.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	cfg      Config
	disabled map[string]bool
	logger   zerolog.Logger
	tracer   *telemetry.Tracer

	// loader and paths are set by LoadPolicies and reused by reloads.
	loader *Loader
	paths  []string
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, cfg Config) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		cfg:      cfg,
		disabled: make(map[string]bool, len(cfg.Disabled)),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		tracer:   cfg.Tracer,
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	for _, name := range cfg.Disabled {
		e.disabled[name] = true
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		p := &builtins[i]
		if p.Name == RequiredTagsPolicy {
			p.Enabled = len(e.cfg.RequiredTags) > 0
		}
		if err := e.compileAndStorePolicy(ctx, p); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// LoadPolicies loads .rego and .json policies from directories or globs
// on fs.
func (e *Engine) LoadPolicies(ctx context.Context, fs afero.Fs, paths []string) error {
	l := NewLoader(fs, e.logger)
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if existing, ok := e.policies[policies[i].Name]; ok && existing.policy.Source == "" {
			return fmt.Errorf("policy %s in %s shadows a built-in policy", policies[i].Name, policies[i].Source)
		}
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	e.loader = l
	e.paths = append(e.paths, paths...)

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// compileAndStorePolicy compiles a policy and stores it. The caller holds
// the write lock or has exclusive access.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name+".rego", policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if e.disabled[policy.Name] {
		policy.Enabled = false
	}
	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled")

	return nil
}

// Evaluate runs every enabled policy against every finalized entity. A
// policy that fails to evaluate is reported in Result.Errors and does not
// stop the others.
func (e *Engine) Evaluate(ctx context.Context, runID string, fin *engine.Finalized) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := e.enabledPolicies()
	ctx, span := e.tracer.StartPolicySpan(ctx, runID, len(active))
	defer span.End()

	inputs := make([]map[string]interface{}, len(fin.Order))
	for i, ent := range fin.Order {
		inputs[i] = entityInput(ent, fin.Nodes[ent.Key], e.cfg.RequiredTags, runID)
	}

	result := &Result{EvaluatedPolicies: make([]string, 0, len(active))}
	for _, cp := range active {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)
		for i, ent := range fin.Order {
			if err := ctx.Err(); err != nil {
				telemetry.RecordError(span, err)
				return nil, err
			}
			violations, err := e.evaluatePolicy(ctx, cp, ent.Key, inputs[i])
			if err != nil {
				e.logger.Error().Err(err).
					Str("policy", cp.policy.Name).
					Str("entity", ent.Key).
					Msg("Policy evaluation failed")
				result.Errors = append(result.Errors, fmt.Sprintf("policy %s on %s: %v", cp.policy.Name, ent.Key, err))
				break
			}
			result.Violations = append(result.Violations, violations...)
		}
	}
	sortViolations(result.Violations)

	for _, v := range result.Violations {
		e.cfg.Metrics.RecordPolicyViolation(string(v.Severity))
		e.cfg.Events.PublishPolicyViolation(runID, v.Entity, v.Policy, string(v.Severity), v.Message)
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)
	telemetry.SetAttributes(span, attribute.Int("policy.violations", len(result.Violations)))
	telemetry.RecordSuccess(span)

	e.logger.Debug().
		Str("run_id", runID).
		Int("entities", len(fin.Order)).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// enabledPolicies returns the enabled policies sorted by name.
func (e *Engine) enabledPolicies() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// entityInput builds the Rego input document for one entity.
func entityInput(ent *engine.Entity, node *engine.GraphNode, requiredTags []string, runID string) map[string]interface{} {
	deps := []string{}
	level := 0
	if node != nil {
		deps = append(deps, node.Dependencies...)
		level = node.Level
	}
	tags := map[string]interface{}{}
	if ent.TagValues != nil {
		tags = value.ToGo(ent.TagValues).(map[string]interface{})
	}
	required := make([]interface{}, len(requiredTags))
	for i, t := range requiredTags {
		required[i] = t
	}
	sensitive := make([]interface{}, 0, len(ent.Sensitive))
	for _, name := range value.SortedKeys(ent.Sensitive) {
		if ent.Sensitive[name] {
			sensitive = append(sensitive, name)
		}
	}

	return map[string]interface{}{
		"entity": map[string]interface{}{
			"key":        ent.Key,
			"name":       ent.Path.Name,
			"kind":       string(ent.Kind),
			"type":       ent.Type,
			"file":       ent.Pos.File,
			"properties": value.ToGo(ent.Snapshot()),
			"tags":       tags,
			"metadata":   value.ToGo(value.Map(ent.Metadata)),
			"sensitive":  sensitive,
			"depends_on": toInterfaces(deps),
			"level":      level,
		},
		"context": map[string]interface{}{
			"run_id":        runID,
			"required_tags": required,
		},
	}
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// evaluatePolicy evaluates a single compiled policy for one entity.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, key string, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, key, d))
		}
	}

	return violations, nil
}

// createViolation creates a Violation from one element of a deny set. The
// element is a message string or an object with message, and optionally
// severity and entity, plus free-form details.
func createViolation(policy *Policy, key string, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Entity:   key,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		for k, field := range v {
			switch k {
			case "message":
				violation.Message = fmt.Sprint(field)
			case "severity":
				if sev, err := ParseSeverity(fmt.Sprint(field)); err == nil {
					violation.Severity = sev
				}
			case "entity":
				violation.Entity = fmt.Sprint(field)
			default:
				if violation.Details == nil {
					violation.Details = make(map[string]interface{})
				}
				violation.Details[k] = field
			}
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	return policies
}

// ReloadPolicies rereads the loaded policy paths, replacing every
// user policy. Built-ins are kept.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.RLock()
	l, paths := e.loader, e.paths
	e.mu.RUnlock()
	if l == nil {
		return nil
	}

	l.ClearCache()
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.replaceUserPolicies(ctx, policies)
}

// replaceUserPolicies swaps the loaded user policies. The old set stays
// when any new policy fails to compile.
func (e *Engine) replaceUserPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.policies
	e.policies = make(map[string]*compiledPolicy, len(previous))
	for name, cp := range previous {
		if cp.policy.Source == "" {
			e.policies[name] = cp
		}
	}
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("User policies replaced")
	return nil
}

// Watch reloads user policies when files under the loaded paths change.
// The paths must be on the OS filesystem.
func (e *Engine) Watch(ctx context.Context) error {
	e.mu.RLock()
	l, paths := e.loader, e.paths
	e.mu.RUnlock()
	if l == nil || len(paths) == 0 {
		return nil
	}
	return l.Watch(ctx, paths, func(policies []Policy) error {
		return e.replaceUserPolicies(ctx, policies)
	})
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	delete(e.disabled, name)
	e.logger.Debug().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.disabled[name] = true
	e.logger.Debug().Str("policy", name).Msg("Policy disabled")

	return nil
}
