package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q (expected info, warning, error or critical)", s)
	}
	return sev, nil
}

// AtLeast reports whether s is as severe as threshold. Unknown severities
// rank as warnings.
func (s Severity) AtLeast(threshold Severity) bool {
	rank, ok := severityRank[s]
	if !ok {
		rank = severityRank[SeverityWarning]
	}
	return rank >= severityRank[threshold]
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set is queried.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Entity is the key of the entity that violated the policy.
	Entity string `json:"entity,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Details carries any extra fields of the deny object.
	Details map[string]interface{} `json:"details,omitempty"`
}

func (v Violation) String() string {
	if v.Entity == "" {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s: %s", v.Severity, v.Policy, v.Entity, v.Message)
}

// Result represents the result of policy evaluation.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Failing returns the violations at or above threshold.
func (r *Result) Failing(threshold Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.AtLeast(threshold) {
			out = append(out, v)
		}
	}
	return out
}

// Err aggregates the violations at or above threshold into one error, or
// returns nil when there are none.
func (r *Result) Err(threshold Severity) error {
	var result *multierror.Error
	for _, v := range r.Failing(threshold) {
		result = multierror.Append(result, fmt.Errorf("%s", v))
	}
	if result == nil {
		return nil
	}
	result.ErrorFormat = func(errs []error) string {
		lines := make([]string, len(errs))
		for i, err := range errs {
			lines[i] = "  " + err.Error()
		}
		return fmt.Sprintf("%d policy violation(s):\n%s", len(errs), strings.Join(lines, "\n"))
	}
	return result
}

// BySeverity counts violations per severity.
func (r *Result) BySeverity() map[Severity]int {
	out := make(map[Severity]int)
	for _, v := range r.Violations {
		out[v.Severity]++
	}
	return out
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Entity != vs[j].Entity {
			return vs[i].Entity < vs[j].Entity
		}
		if vs[i].Policy != vs[j].Policy {
			return vs[i].Policy < vs[j].Policy
		}
		return vs[i].Message < vs[j].Message
	})
}
