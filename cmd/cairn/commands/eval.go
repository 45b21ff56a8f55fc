package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cairnlang/cairn/pkg/eval"
)

func newEvalCommand() *cobra.Command {
	var (
		flags  runFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "eval [file]",
		Short: "Evaluate a program and print its outputs",
		Long: `Evaluate a program and print its outputs and the finalized entity order.

Resources are evaluated as soon as the values they refer to are known, so
declaration order does not matter. Configured policies run after
evaluation; violations at or above the fail-on severity fail the command.`,
		Example: `  # Evaluate main.cairn (or the program named in cairn.yaml)
  cairn eval

  # Set inputs and print YAML
  cairn eval infra.cairn --var region=eu-west-1 --var replicas=3 -o yaml

  # Type-check against CUE schemas and register a Starlark validator
  cairn eval --schema 'schemas/**/*.cue' --validator cidr=validators/cidr.star`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(output)
			if err != nil {
				return err
			}

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

			res, err := s.run(ctx, "eval", func(ctx context.Context, res *eval.Result) error {
				pr, err := s.checkPolicies(ctx, eng, res)
				printDiagnostics(cmd.ErrOrStderr(), pr)
				return err
			})
			if err != nil {
				return err
			}
			return printEvalResult(cmd.OutOrStdout(), res, format)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format (text, json, yaml)")

	return cmd
}
