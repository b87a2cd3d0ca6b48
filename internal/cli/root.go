// Package cli implements mgctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/cli/output"
	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
	quietMode  bool
	noColor    bool
	printer    *output.Printer
	app        *App

	// openApp is replaced in tests.
	openApp = OpenApp
)

var rootCmd = &cobra.Command{
	Use:   "mgctl",
	Short: "mgctl - submit and manage media processing",
	Long: `mgctl submits uploads for processing and reprocesses stored media.

Get started:
  mgctl submit clip.mp4               # Upload and process a file
  mgctl available <entry-id>          # List reprocessing actions
  mgctl reprocess <entry-id> resize   # Regenerate the thumbnail
  mgctl gc                            # Collect stale uploads`,
	Version: version.Full(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger.Init(cfg.LogLevel)

		printer = output.New(
			output.WithJSON(jsonOutput),
			output.WithQuiet(quietMode),
			output.WithNoColor(noColor),
			output.WithOutput(cmd.OutOrStdout()),
			output.WithErrOutput(cmd.ErrOrStderr()),
		)

		app, err = openApp(cmd.Context(), cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs mgctl and reports any command error on stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(err)
	}
	return err
}

func reportError(err error) {
	p := printer
	if p == nil {
		// Config failed to load before the printer existed.
		p = output.New(output.WithJSON(jsonOutput), output.WithNoColor(noColor), output.WithErrOutput(rootCmd.ErrOrStderr()))
	}
	p.Error("%v", err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $MG_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON (for scripting)")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.SetVersionTemplate("mgctl version {{.Version}}\n")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(availableCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gcCmd)
}

// processEntry hands the request to app.process. Inline runs show a
// spinner on stderr and record how long the job took.
func processEntry(cmd *cobra.Command, entryID uuid.UUID, feedURL, action string, params map[string]any) (Request, error) {
	if app.Submitter != nil {
		return app.process(cmd.Context(), entryID, feedURL, action, params)
	}

	spin := output.NewSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Running %s", action), printer.IsQuiet() || printer.IsJSON())
	spin.Update(fmt.Sprintf("Running %s on %s", action, entryID))
	req, err := app.process(cmd.Context(), entryID, feedURL, action, params)
	spin.Finish()
	if err != nil {
		return req, err
	}
	req.Elapsed = spin.Duration().Round(time.Millisecond).String()
	return req, nil
}

func reportRequest(r Request, verb string) error {
	if printer.IsJSON() {
		return printer.JSON(r)
	}
	if r.JobID != "" {
		printer.Success("%s %s queued as job %s", verb, r.EntryID, r.JobID)
		return nil
	}
	printer.State(r.EntryID, r.State, r.Error)
	if r.Elapsed != "" {
		printer.Indent("%s took %s", r.Action, r.Elapsed)
	}
	return nil
}
