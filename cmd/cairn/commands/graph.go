package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cairnlang/cairn/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var (
		flags  runFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   "graph [file]",
		Short: "Print the dependency graph",
		Long: `Evaluate a program and print the dependency graph of its entities.

Formats:
  dot     Graphviz DOT, one node per entity (default)
  tree    dependency tree rooted at entities nothing depends on
  levels  entities grouped by dependency level`,
		Example: `  # Render with Graphviz
  cairn graph | dot -Tsvg > graph.svg

  # Show the levels that could be applied in parallel
  cairn graph --format levels`,
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
			res, err := s.run(ctx, "graph", nil)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, graphReport(res.Finalized))
			}
			return printGraph(w, res.Finalized, format)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "dot", "graph format (dot, tree, levels)")

	return cmd
}

type graphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func graphReport(fin *engine.Finalized) map[string]interface{} {
	edges := make([]graphEdge, len(fin.Edges))
	for i, e := range fin.Edges {
		edges[i] = graphEdge{From: e.From, To: e.To}
	}
	order := make([]string, len(fin.Order))
	for i, ent := range fin.Order {
		order[i] = ent.Key
	}
	return map[string]interface{}{
		"order":  order,
		"levels": fin.Levels,
		"edges":  edges,
	}
}

func printGraph(w io.Writer, fin *engine.Finalized, format string) error {
	switch format {
	case "dot":
		_, err := io.WriteString(w, fin.ToDOT())
		return err
	case "tree":
		_, err := io.WriteString(w, fin.ToTree())
		return err
	case "levels":
		for i, keys := range fin.Levels {
			if _, err := fmt.Fprintf(w, "%d: %s\n", i, strings.Join(keys, ", ")); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown graph format %q (expected dot, tree or levels)", format)
	}
}
