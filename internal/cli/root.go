// Package cli implements the feedctl command-line interface.
package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lvonguyen/feedforge/internal/app"
	"github.com/lvonguyen/feedforge/internal/config"
	"github.com/lvonguyen/feedforge/internal/ingestion"
	"github.com/lvonguyen/feedforge/internal/observability"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const defaultTimeout = 10 * time.Minute

// Options customise the root command. Zero values select the production
// wiring.
type Options struct {
	Version   string
	Telemetry *observability.Telemetry
	Fetchers  []ingestion.Fetcher
}

type globalFlags struct {
	configFile string
	dataDir    string
	outputJSON bool
	noColor    bool
	verbose    bool
}

// NewRootCmd creates the feedctl command with all subcommands.
func NewRootCmd(opts Options) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "feedctl",
		Short: "Operate the FeedForge IOC pipeline",
		Long: `feedctl runs the FeedForge reconciliation pipeline and inspects its output.

It reads the same configuration file as the server and works directly on the
data directory, so it can be used for one-off refreshes, integrity checks and
restoring the artifact from a backup.`,
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.configFile, "config", "configs/config.yaml", "Config file path")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Override the storage data directory")
	root.PersistentFlags().BoolVar(&flags.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log pipeline progress")

	env := &environment{flags: flags, opts: opts}

	root.AddCommand(newRunCmd(env))
	root.AddCommand(newIngestCmd(env))
	root.AddCommand(newQueryCmd(env))
	root.AddCommand(newStatsCmd(env))
	root.AddCommand(newHistoryCmd(env))
	root.AddCommand(newIntegrityCmd(env))
	root.AddCommand(newBackupsCmd(env))
	root.AddCommand(newRestoreCmd(env))

	return root
}

// environment builds the app lazily for the subcommand being run.
type environment struct {
	flags *globalFlags
	opts  Options
}

func (e *environment) config() (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(e.flags.configFile); errors.Is(err, os.ErrNotExist) {
		cfg = config.DefaultConfig()
	} else {
		loaded, err := config.Load(e.flags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if e.flags.dataDir != "" {
		cfg.Storage.DataDir = e.flags.dataDir
	}
	cfg.Logging.Format = "console"
	if !e.flags.verbose {
		cfg.Logging.Level = "warn"
	}
	cfg.Telemetry.TracingEnabled = false

	return cfg, cfg.Validate()
}

func (e *environment) app() (*app.App, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.Options{
		Version:   e.opts.Version,
		Telemetry: e.opts.Telemetry,
		Fetchers:  e.opts.Fetchers,
	})
}

// withApp builds the app, runs fn and releases the app.
func (e *environment) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := e.app()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()
	return fn(ctx, a)
}
