package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cairnlang/cairn/pkg/engine"
	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/loader"
	"github.com/cairnlang/cairn/pkg/telemetry"
)

// finalize evaluates an HCL program and returns its finalized graph.
func finalize(t *testing.T, src string) (string, *engine.Finalized) {
	t.Helper()
	prog, err := loader.New(afero.NewMemMapFs()).Parse("main.cairn", []byte(src))
	if err != nil {
		t.Fatalf("failed to parse program: %v", err)
	}
	res, err := eval.New(eval.Options{Logger: zerolog.Nop()}).Run(context.Background(), prog)
	if err != nil {
		t.Fatalf("failed to evaluate program: %v", err)
	}
	return res.RunID, res.Finalized
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func summarize(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t, Config{})

	var got []string
	for _, p := range eng.ListPolicies() {
		got = append(got, p.Name)
	}
	if diff := cmp.Diff([]string{NamingPolicy, RequiredTagsPolicy}, got); diff != "" {
		t.Errorf("Built-in policies mismatch (-want +got):\n%s", diff)
	}

	tags, err := eng.GetPolicy(RequiredTagsPolicy)
	if err != nil {
		t.Fatalf("Expected required-tags to be loaded: %v", err)
	}
	if tags.Enabled {
		t.Error("Expected required-tags to be disabled without configured tags")
	}

	eng = newTestEngine(t, Config{RequiredTags: []string{"owner"}, Disabled: []string{NamingPolicy}})
	tags, _ = eng.GetPolicy(RequiredTagsPolicy)
	naming, _ := eng.GetPolicy(NamingPolicy)
	if !tags.Enabled || naming.Enabled {
		t.Errorf("Expected required-tags on and entity-naming off, got %v and %v", tags.Enabled, naming.Enabled)
	}
}

func TestEvaluate_Naming(t *testing.T) {
	runID, fin := finalize(t, `
resource "vm" "web_1" {
  size = 1
}

resource "vm" "Web" {
  size = 2
}

resource "vm" "db-" {
  size = 3
}
`)
	eng := newTestEngine(t, Config{})

	result, err := eng.Evaluate(context.Background(), runID, fin)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{
		"[error] entity-naming: Web: name 'Web' must start with a lowercase letter and contain only lowercase letters, digits, underscores and hyphens",
		"[warning] entity-naming: db-: name 'db-' must not end with a hyphen",
	}
	if diff := cmp.Diff(want, summarize(result.Violations)); diff != "" {
		t.Errorf("Violations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{NamingPolicy}, result.EvaluatedPolicies); diff != "" {
		t.Errorf("Evaluated policies mismatch (-want +got):\n%s", diff)
	}

	if got := len(result.Failing(SeverityError)); got != 1 {
		t.Errorf("Expected 1 failing violation at error, got %d", got)
	}
	if got := len(result.Failing(SeverityWarning)); got != 2 {
		t.Errorf("Expected 2 failing violations at warning, got %d", got)
	}
	if result.Err(SeverityCritical) != nil {
		t.Error("Expected no error at critical")
	}
	err = result.Err(SeverityError)
	if err == nil || !strings.Contains(err.Error(), "1 policy violation(s)") {
		t.Errorf("Expected an aggregated violation error, got: %v", err)
	}
}

func TestEvaluate_RequiredTags(t *testing.T) {
	runID, fin := finalize(t, `
resource "vm" "tagged" {
  tags = { owner = "ops", env = "prod" }
}

resource "vm" "untagged" {
  size = 1
}

resource "vm" "blank" {
  tags = { owner = "", env = "dev" }
}

resource "vm" "legacy" {
  directive "existing" {}
}

output "note" {
  value = "outputs carry no tags"
}
`)
	eng := newTestEngine(t, Config{RequiredTags: []string{"env", "owner"}, Disabled: []string{NamingPolicy}})

	result, err := eng.Evaluate(context.Background(), runID, fin)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{
		"[warning] required-tags: blank: tag 'owner' must not be empty",
		"[error] required-tags: untagged: missing required tag 'env'",
		"[error] required-tags: untagged: missing required tag 'owner'",
	}
	if diff := cmp.Diff(want, summarize(result.Violations)); diff != "" {
		t.Errorf("Violations mismatch (-want +got):\n%s", diff)
	}
	if result.Violations[1].Details["tag"] != "env" {
		t.Errorf("Expected tag detail env, got %v", result.Violations[1].Details)
	}
}

func TestEvaluate_UserPolicies(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "policies/size.rego", []byte(`# VMs stay small.
# severity: critical
package cairn.custom.size

import rego.v1

deny contains msg if {
	input.entity.type == "vm"
	input.entity.properties.size > 4
	msg := sprintf("size %d exceeds 4", [input.entity.properties.size])
}
`), 0o644)
	_ = afero.WriteFile(fs, "policies/deps.rego", []byte(`package cairn.custom.deps

import rego.v1

deny contains {"message": "web must depend on something", "severity": "info"} if {
	input.entity.key == "web"
	count(input.entity.depends_on) == 0
}
`), 0o644)

	runID, fin := finalize(t, `
resource "vm" "web" {
  size = 8
}

resource "vm" "db" {
  size = 2
}
`)
	events := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 10})
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "cairn"})
	eng := newTestEngine(t, Config{Events: events, Metrics: metrics})

	if err := eng.LoadPolicies(context.Background(), fs, []string{"policies/*.rego"}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	size, err := eng.GetPolicy("size")
	if err != nil {
		t.Fatalf("Expected size policy to be loaded: %v", err)
	}
	if size.Severity != SeverityCritical || size.Description != "VMs stay small." {
		t.Errorf("Unexpected policy header: severity %s, description %q", size.Severity, size.Description)
	}

	result, err := eng.Evaluate(context.Background(), runID, fin)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{
		"[info] deps: web: web must depend on something",
		"[critical] size: web: size 8 exceeds 4",
	}
	if diff := cmp.Diff(want, summarize(result.Violations)); diff != "" {
		t.Errorf("Violations mismatch (-want +got):\n%s", diff)
	}

	published := events.Events(telemetry.FilterByType(telemetry.EventTypePolicyViolation))
	if len(published) != 2 {
		t.Errorf("Expected 2 violation events, got %d", len(published))
	}
	count, err := testutil.GatherAndCount(metrics.Registry(), "cairn_policy_violations_total")
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 violation series, got %d", count)
	}
}

func TestLoadPolicies_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "bad/broken.rego", []byte("package broken\n\ndeny contains if {"), 0o644)
	_ = afero.WriteFile(fs, "shadow/entity-naming.rego", []byte("package shadow\n\ndeny := set()\n"), 0o644)

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"compile error", []string{"bad"}, "failed to compile policy broken"},
		{"shadowed built-in", []string{"shadow/*.rego"}, "shadows a built-in policy"},
		{"missing file", []string{"nope.rego"}, "no file matches"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, Config{})
			err := eng.LoadPolicies(context.Background(), fs, tt.paths)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, Config{})

	if err := eng.DisablePolicy(NamingPolicy); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	runID, fin := finalize(t, `
resource "vm" "Bad" {
  size = 1
}
`)
	result, _ := eng.Evaluate(context.Background(), runID, fin)
	if len(result.Violations) != 0 || len(result.EvaluatedPolicies) != 0 {
		t.Errorf("Expected nothing evaluated, got %v", result.EvaluatedPolicies)
	}

	if err := eng.EnablePolicy(NamingPolicy); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, _ = eng.Evaluate(context.Background(), runID, fin)
	if len(result.Violations) != 1 {
		t.Errorf("Expected 1 violation, got %d", len(result.Violations))
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected an error for an unknown policy")
	}
}

func TestReloadPolicies(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "p/first.rego", []byte("package first\n\nimport rego.v1\n\ndeny contains \"one\" if true\n"), 0o644)

	eng := newTestEngine(t, Config{Disabled: []string{NamingPolicy}})
	if err := eng.LoadPolicies(context.Background(), fs, []string{"p"}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	_ = fs.Remove("p/first.rego")
	_ = afero.WriteFile(fs, "p/second.rego", []byte("package second\n\nimport rego.v1\n\ndeny contains \"two\" if true\n"), 0o644)
	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	if _, err := eng.GetPolicy("first"); err == nil {
		t.Error("Expected first to be dropped on reload")
	}
	if _, err := eng.GetPolicy("second"); err != nil {
		t.Errorf("Expected second to be loaded: %v", err)
	}
	if _, err := eng.GetPolicy(NamingPolicy); err != nil {
		t.Errorf("Expected built-ins to survive a reload: %v", err)
	}
	naming, _ := eng.GetPolicy(NamingPolicy)
	if naming.Enabled {
		t.Error("Expected entity-naming to stay disabled")
	}
}

func TestParseSeverity(t *testing.T) {
	if sev, err := ParseSeverity(" Error "); err != nil || sev != SeverityError {
		t.Errorf("Expected error severity, got %s (%v)", sev, err)
	}
	if _, err := ParseSeverity("fatal"); err == nil {
		t.Error("Expected an error for an unknown severity")
	}
	if !SeverityCritical.AtLeast(SeverityError) || SeverityInfo.AtLeast(SeverityWarning) {
		t.Error("Unexpected severity ordering")
	}
}
