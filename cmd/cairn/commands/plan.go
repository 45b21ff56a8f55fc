package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/plan"
)

func newPlanCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "plan [file]",
		Short: "Show the changes apply would record",
		Long: `Evaluate a program and compare its resources with the applied state.

Every resource is planned as a create, update, delete or no-op. Changes
are grouped by dependency level; resources in one level are independent.
Resources marked existing are not managed and never planned.`,
		Example: `  # Plan against .cairn/state.db
  cairn plan

  # Plan against another state database
  cairn plan --state ./prod.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(&flags, args)
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.plan(cmd.Context(), "plan", cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			printPlan(cmd.OutOrStdout(), p)
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

// plan evaluates, checks policies and diffs against the state database.
// then, when set, runs inside the recorded run with the computed plan.
func (s *session) plan(ctx context.Context, command string, diag io.Writer, then func(ctx context.Context, planner *plan.Planner, p *plan.Plan) error) (*plan.Plan, error) {
	if err := s.openStore(ctx, true); err != nil {
		return nil, err
	}
	eng, err := s.policyEngine(ctx)
	if err != nil {
		return nil, err
	}
	planner := plan.NewPlanner(s.store, s.logger)

	var p *plan.Plan
	_, err = s.run(ctx, command, func(ctx context.Context, res *eval.Result) error {
		pr, err := s.checkPolicies(ctx, eng, res)
		printDiagnostics(diag, pr)
		if err != nil {
			return err
		}
		if p, err = planner.Plan(ctx, res); err != nil {
			return err
		}
		if then != nil {
			return then(ctx, planner, p)
		}
		return nil
	})
	return p, err
}
