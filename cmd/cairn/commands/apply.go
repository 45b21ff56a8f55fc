package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cairnlang/cairn/pkg/plan"
)

func newApplyCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "apply [file]",
		Short: "Plan and record the new state",
		Long: `Compute a plan and record its resources as the applied state.

There are no providers: applying records what was planned so the next
plan diffs against it. Policy violations at or above the fail-on
severity stop the apply before anything is recorded.`,
		Example: `  # Apply main.cairn
  cairn apply

  # Apply with inputs from a file
  cairn apply --vars-file prod.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(&flags, args)
			if err != nil {
				return err
			}
			defer s.Close()

			applied := 0
			p, err := s.plan(cmd.Context(), "apply", cmd.ErrOrStderr(), func(ctx context.Context, planner *plan.Planner, p *plan.Plan) error {
				if !p.HasChanges() {
					return nil
				}
				states, err := planner.Apply(ctx, p)
				applied = len(states)
				return err
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, p)
			}
			printPlan(w, p)
			if p.HasChanges() {
				fmt.Fprintf(w, "Apply complete! %d resource(s) recorded.\n", applied)
			}
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}
