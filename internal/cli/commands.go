package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/feedforge/internal/app"
)

// newRunCmd creates the 'run' subcommand
func newRunCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full reconciliation pipeline once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				result := a.Pipeline.Run(ctx)
				out := cmd.OutOrStdout()

				if env.flags.outputJSON {
					if err := writeJSON(out, result); err != nil {
						return err
					}
				} else {
					renderRunResult(out, result)
				}

				if !result.Success {
					return errors.New(result.Error)
				}
				return nil
			})
		},
	}
}

// newIngestCmd creates the 'ingest' subcommand
func newIngestCmd(env *environment) *cobra.Command {
	var showRecords bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and parse the feeds without processing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				result := a.Pipeline.Ingest(ctx)
				out := cmd.OutOrStdout()

				if env.flags.outputJSON {
					if !showRecords {
						result.Raw = nil
					}
					return writeJSON(out, result)
				}
				renderIngestResult(out, result, showRecords)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showRecords, "records", false, "Include the raw records in the output")
	return cmd
}

// newQueryCmd creates the 'query' subcommand
func newQueryCmd(env *environment) *cobra.Command {
	var kind, source string
	var limit int

	cmd := &cobra.Command{
		Use:     "query",
		Aliases: []string{"ls"},
		Short:   "List indicators from the current artifact",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				iocs, err := a.Store.Query(kind, source)
				if err != nil {
					return err
				}
				if env.flags.outputJSON {
					return writeJSON(cmd.OutOrStdout(), iocs)
				}
				renderIndicators(cmd.OutOrStdout(), iocs, limit)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "type", "", "Filter by indicator type (ip, url)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source feed")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to print (0 for all)")
	return cmd
}

// newStatsCmd creates the 'stats' subcommand
func newStatsCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show counts by type, source and confidence band",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := a.Store.Stats()
				if err != nil {
					return err
				}
				if env.flags.outputJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				renderStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

// newHistoryCmd creates the 'history' subcommand
func newHistoryCmd(env *environment) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				history, err := a.Store.History()
				if err != nil {
					return err
				}
				if limit > 0 && len(history) > limit {
					history = history[len(history)-limit:]
				}
				if env.flags.outputJSON {
					return writeJSON(cmd.OutOrStdout(), history)
				}
				renderHistory(cmd.OutOrStdout(), history)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show (0 for all)")
	return cmd
}

// newIntegrityCmd creates the 'integrity' subcommand
func newIntegrityCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Validate the current artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report := a.Store.CheckIntegrity()
				if env.flags.outputJSON {
					if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					renderIntegrity(cmd.OutOrStdout(), report)
				}

				if !report.IsValid {
					return fmt.Errorf("artifact failed integrity check with %d issue(s)", len(report.Issues))
				}
				return nil
			})
		},
	}
}

// newBackupsCmd creates the 'backups' subcommand
func newBackupsCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List artifact backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				paths, err := a.Store.Backups()
				if err != nil {
					return err
				}
				if env.flags.outputJSON {
					if paths == nil {
						paths = []string{}
					}
					return writeJSON(cmd.OutOrStdout(), paths)
				}
				renderBackups(cmd.OutOrStdout(), paths)
				return nil
			})
		},
	}
}

// newRestoreCmd creates the 'restore' subcommand
func newRestoreCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup-path]",
		Short: "Restore the artifact from a backup (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var path string
				if len(args) == 1 {
					path = args[0]
				} else {
					latest, err := a.Store.LatestBackup()
					if err != nil {
						return err
					}
					path = latest
				}

				if err := a.Store.Restore(ctx, path); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if env.flags.outputJSON {
					return writeJSON(out, map[string]any{"success": true, "restored_from": path})
				}
				successColor.Fprintf(out, "✓ Restored artifact from %s\n", path)
				return nil
			})
		},
	}
}
