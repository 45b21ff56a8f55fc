package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/loader"
)

const watchDebounce = 200 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var (
		flags  runFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Re-evaluate a program whenever it changes",
		Long: `Evaluate a program, then evaluate it again each time it or one of its
imports changes. Policy files are reloaded when they change. Errors are
printed and watching continues.

When telemetry.metrics.listen_address is configured, Prometheus metrics
are served for as long as the command runs.`,
		Example: `  # Watch main.cairn
  cairn watch

  # Watch and print JSON on every change
  cairn watch infra.cairn -o json`,
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

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := s.openStore(ctx, false); err != nil {
				return err
			}
			eng, err := s.policyEngine(ctx)
			if err != nil {
				return err
			}
			if err := eng.Watch(ctx); err != nil {
				return err
			}

			go func() {
				if err := s.tel.Metrics.Serve(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Metrics server failed")
				}
			}()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			w := cmd.OutOrStdout()
			evaluate := func() {
				res, err := s.run(ctx, "watch", func(ctx context.Context, res *eval.Result) error {
					pr, err := s.checkPolicies(ctx, eng, res)
					printDiagnostics(cmd.ErrOrStderr(), pr)
					return err
				})
				watchSources(s, watcher, res)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
					return
				}
				if err := printEvalResult(w, res, format); err != nil {
					s.logger.Error().Err(err).Msg("Failed to print result")
				}
			}

			evaluate()
			s.logger.Info().Str("program", s.program).Msg("Watching for changes")

			var timer *time.Timer
			rerun := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					if timer != nil {
						timer.Stop()
					}
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !loader.IsProgram(event.Name) {
						continue
					}
					s.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Program changed")
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(watchDebounce, func() {
						select {
						case rerun <- struct{}{}:
						default:
						}
					})

				case <-rerun:
					fmt.Fprintf(w, "\n--- %s ---\n", time.Now().Format(time.TimeOnly))
					evaluate()

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					s.logger.Error().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format (text, json, yaml)")

	return cmd
}

// watchSources watches the directories of the program and everything it
// imported. Adding a watched directory again is a no-op.
func watchSources(s *session, watcher *fsnotify.Watcher, res *eval.Result) {
	files := []string{s.program}
	if res != nil {
		files = append(files, res.Imports...)
	}
	for _, f := range files {
		dir := filepath.Dir(f)
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
		}
	}
}
