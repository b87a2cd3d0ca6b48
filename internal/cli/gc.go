package cli

import (
	"fmt"

	"github.com/cobbzilla/mediagoblin/internal/worker"
	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Collect stale uploads and finalize abandoned processing",
	Long: `Delete entries that stayed unprocessed past the retention period,
with their files, then finalize entries stuck in processing.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

var gcSkipReconcile bool

func init() {
	gcCmd.Flags().BoolVar(&gcSkipReconcile, "skip-reconcile", false, "Only collect stale uploads")
}

type gcResult struct {
	GC        *worker.GCStats        `json:"gc"`
	Reconcile *worker.ReconcileStats `json:"reconcile,omitempty"`
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := app.Config

	stats, err := worker.RunGarbageCollection(ctx, &worker.GCDependencies{
		Repo:      app.Repo,
		Public:    app.Public,
		Queue:     app.Queue,
		Retention: cfg.GC.Retention,
		BatchSize: cfg.GC.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("garbage collection failed: %w", err)
	}
	res := gcResult{GC: stats}

	if !gcSkipReconcile {
		rs, err := worker.NewReconciler(app.Repo, app.Notifier, cfg.Reconcile.LivenessTimeout).Run(ctx)
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}
		res.Reconcile = rs
	}

	if printer.IsJSON() {
		return printer.JSON(res)
	}
	printer.Success("Garbage collection done")
	printer.KeyValue("entries deleted", fmt.Sprint(stats.EntriesDeleted))
	printer.KeyValue("files deleted", fmt.Sprint(stats.FilesDeleted))
	printer.KeyValue("skipped", fmt.Sprint(stats.Skipped))
	if res.Reconcile != nil {
		printer.KeyValue("restored", fmt.Sprint(res.Reconcile.Restored))
		printer.KeyValue("failed stale", fmt.Sprint(res.Reconcile.Failed))
	}
	return nil
}
