package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
					"go":      runtime.Version(),
				})
			}
			fmt.Fprintf(w, "cairn %s\n", version)
			fmt.Fprintf(w, "  commit: %s\n", commit)
			fmt.Fprintf(w, "  built:  %s\n", buildDate)
			fmt.Fprintf(w, "  go:     %s\n", runtime.Version())
			return nil
		},
	}
}
