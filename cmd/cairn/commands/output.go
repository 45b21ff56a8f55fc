package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/plan"
	"github.com/cairnlang/cairn/pkg/policy"
	"github.com/cairnlang/cairn/pkg/value"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// outputFormat applies the global --json flag over a command's --output.
func outputFormat(requested string) (string, error) {
	if jsonOutput {
		return formatJSON, nil
	}
	switch requested {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return requested, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or yaml)", requested)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// entityReport is one finalized entity as printed by eval.
type entityReport struct {
	Key          string   `json:"key" yaml:"key"`
	Kind         string   `json:"kind" yaml:"kind"`
	Type         string   `json:"type,omitempty" yaml:"type,omitempty"`
	Level        int      `json:"level" yaml:"level"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// evalReport is the machine-readable result of a run.
type evalReport struct {
	RunID    string                 `json:"run_id" yaml:"run_id"`
	Outputs  map[string]interface{} `json:"outputs" yaml:"outputs"`
	Entities []entityReport         `json:"entities" yaml:"entities"`
	Levels   [][]string             `json:"levels" yaml:"levels"`
	Passes   int                    `json:"passes" yaml:"passes"`
	Duration string                 `json:"duration" yaml:"duration"`
}

func newEvalReport(res *eval.Result) evalReport {
	report := evalReport{
		RunID:    res.RunID,
		Outputs:  make(map[string]interface{}, len(res.Outputs)),
		Entities: make([]entityReport, 0, len(res.Finalized.Order)),
		Levels:   res.Finalized.Levels,
		Passes:   res.Stats.Passes,
		Duration: res.Stats.Duration.String(),
	}
	for _, o := range res.Outputs {
		report.Outputs[o.Name] = value.ToGo(o.Display())
	}
	for _, ent := range res.Finalized.Order {
		er := entityReport{Key: ent.Key, Kind: string(ent.Kind), Type: ent.Type}
		if node := res.Finalized.Nodes[ent.Key]; node != nil {
			er.Level = node.Level
			er.Dependencies = node.Dependencies
		}
		report.Entities = append(report.Entities, er)
	}
	return report
}

func printEvalResult(w io.Writer, res *eval.Result, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, newEvalReport(res))
	case formatYAML:
		return writeYAML(w, newEvalReport(res))
	}

	if len(res.Outputs) > 0 {
		fmt.Fprintln(w, "Outputs:")
		for _, o := range res.Outputs {
			fmt.Fprintf(w, "  %s = %s\n", o.Name, value.Repr(o.Display()))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Entities (%d, %d passes):\n", res.Stats.Entities, res.Stats.Passes)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, ent := range res.Finalized.Order {
		level := 0
		if node := res.Finalized.Nodes[ent.Key]; node != nil {
			level = node.Level
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\tlevel %d\n", i, ent.Key, ent.Kind, ent.Type, level)
	}
	return tw.Flush()
}

// printDiagnostics writes one line per violation and evaluation error.
func printDiagnostics(w io.Writer, pr *policy.Result) {
	if pr == nil {
		return
	}
	for _, v := range pr.Violations {
		fmt.Fprintln(w, v.String())
	}
	for _, e := range pr.Errors {
		fmt.Fprintf(w, "[error] %s\n", e)
	}
}

func printPlan(w io.Writer, p *plan.Plan) {
	if !p.HasChanges() {
		fmt.Fprintf(w, "No changes. %d resource(s) up to date.\n", p.Summary.NoChange)
		return
	}

	for _, u := range p.Units {
		if u.Operation == plan.OperationNoop {
			continue
		}
		fmt.Fprintf(w, "%s %s (%s)\n", u.Operation.Symbol(), u.Key, u.Type)
		for _, c := range u.Changes {
			switch c.Action {
			case plan.ChangeActionAdd:
				fmt.Fprintf(w, "    + %s = %s\n", c.Path, value.Repr(c.After))
			case plan.ChangeActionRemove:
				fmt.Fprintf(w, "    - %s = %s\n", c.Path, value.Repr(c.Before))
			case plan.ChangeActionModify:
				fmt.Fprintf(w, "    ~ %s: %s -> %s\n", c.Path, value.Repr(c.Before), value.Repr(c.After))
			}
		}
	}
	fmt.Fprintf(w, "\nPlan: %s.\n", p.Summary)
}
