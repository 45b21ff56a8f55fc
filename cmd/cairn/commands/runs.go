package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cairnlang/cairn/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var (
		flags runFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs",
		Long: `List the runs recorded in the state database, newest first. With a run
ID, show that run's entities, outputs and events.`,
		Example: `  # Last 20 runs
  cairn runs

  # Details of one run
  cairn runs 3f0c9a52-8d0e-4c1a-9a57-2f1e8b7d6c10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(&flags, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.openStore(ctx, true); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(args) == 1 {
				return showRun(cmd, s.store, args[0])
			}

			runs, err := s.store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(w, runs)
			}
			return printRuns(w, runs)
		},
	}

	cmd.Flags().StringVar(&flags.state, "state", "", "state database path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")

	return cmd
}

func printRuns(w io.Writer, runs []*stores.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMMAND\tSTATUS\tENTITIES\tPASSES\tDURATION\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Command, r.Status, r.EntityCount, r.Passes,
			time.Duration(r.DurationMS)*time.Millisecond,
			r.StartedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

type runDetails struct {
	Run      *stores.Run              `json:"run"`
	Entities []*stores.EntitySnapshot `json:"entities"`
	Outputs  []*stores.OutputRecord   `json:"outputs"`
	Events   []*stores.Event          `json:"events"`
}

func showRun(cmd *cobra.Command, store stores.Store, id string) error {
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	details := runDetails{Run: run}
	if details.Entities, err = store.ListEntities(ctx, id); err != nil {
		return err
	}
	if details.Outputs, err = store.ListOutputs(ctx, id); err != nil {
		return err
	}
	if details.Events, err = store.GetEvents(ctx, &id, nil, -1, 0); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, details)
	}

	fmt.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  command:  %s %s\n", run.Command, run.Program)
	fmt.Fprintf(w, "  status:   %s\n", run.Status)
	fmt.Fprintf(w, "  started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  duration: %s\n", time.Duration(run.DurationMS)*time.Millisecond)
	if run.Error != nil {
		fmt.Fprintf(w, "  error:    %s\n", *run.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(details.Outputs) > 0 {
		fmt.Fprintln(tw, "\nOutputs:")
		for _, o := range details.Outputs {
			fmt.Fprintf(tw, "  %s\t= %s\n", o.Name, o.Value)
		}
	}
	if len(details.Entities) > 0 {
		fmt.Fprintln(tw, "\nEntities:")
		for _, e := range details.Entities {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\tlevel %d\n", e.Position, e.Key, e.Kind, e.Type, e.Level)
		}
	}
	if len(details.Events) > 0 {
		fmt.Fprintln(tw, "\nEvents:")
		for _, e := range details.Events {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Type, e.Message)
		}
	}
	return tw.Flush()
}
