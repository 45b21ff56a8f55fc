package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a program without printing its results",
		Long: `Evaluate a program and run policies, printing only diagnostics.

This command checks:
  - syntax and imports
  - reference resolution and dependency cycles
  - schema conformance and directive validators
  - policy compliance (OPA/Rego)`,
		Example: `  # Validate main.cairn with the configured policies
  cairn validate

  # Validate with extra policies
  cairn validate infra.cairn --policy ./policies`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(&flags, args)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.openStore(ctx, false); err != nil {
				return err
			}
			eng, err := s.policyEngine(ctx)
			if err != nil {
				return err
			}

			var pr *policy.Result
			_, err = s.run(ctx, "validate", func(ctx context.Context, res *eval.Result) error {
				var err error
				pr, err = s.checkPolicies(ctx, eng, res)
				return err
			})

			w := cmd.OutOrStdout()
			if jsonOutput {
				if jerr := writeJSON(w, validateReport(pr, err)); jerr != nil {
					return jerr
				}
				return err
			}

			printDiagnostics(w, pr)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Valid: %d policies evaluated, %d violation(s) below the fail-on severity.\n",
				len(pr.EvaluatedPolicies), len(pr.Violations))
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

type validateResult struct {
	Valid      bool               `json:"valid"`
	Error      string             `json:"error,omitempty"`
	Violations []policy.Violation `json:"violations"`
	Errors     []string           `json:"errors,omitempty"`
}

func validateReport(pr *policy.Result, err error) validateResult {
	out := validateResult{Valid: err == nil, Violations: []policy.Violation{}}
	if err != nil {
		out.Error = err.Error()
	}
	if pr != nil {
		out.Violations = append(out.Violations, pr.Violations...)
		out.Errors = pr.Errors
	}
	return out
}
