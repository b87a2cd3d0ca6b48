package cli

import (
	"fmt"

	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <entry-id> <action> [-- step arguments]",
	Short: "Run a processing action on a stored entry",
	Long: `Run a processing action on an entry. Step arguments follow "--"
and are checked against the step's parameters before anything is queued.

Examples:
  mgctl reprocess 6f1c... resize -- --size 100 100 thumb
  mgctl reprocess 6f1c... transcode -- --vp8_quality 6
  mgctl reprocess 6f1c... initial`,
	Args: cobra.MinimumNArgs(2),
	RunE: runReprocess,
}

var reprocessFeedURL string

func init() {
	reprocessCmd.Flags().StringVar(&reprocessFeedURL, "feed-url", "", "Feed to announce to PuSH hubs when done")
}

func runReprocess(cmd *cobra.Command, args []string) error {
	entry, m, err := loadEntry(cmd, args[0])
	if err != nil {
		return err
	}
	step, err := m.GetProcessor(args[1], entry)
	if err != nil {
		return err
	}
	params, err := processing.ParseArgs(step.Params(), args[2:])
	if err != nil {
		return err
	}

	req, err := processEntry(cmd, entry.ID, reprocessFeedURL, step.Name(), params)
	if err != nil {
		return err
	}
	return reportRequest(req, "Reprocessing of")
}

func loadEntry(cmd *cobra.Command, arg string) (*media.Entry, *processing.Manager, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid entry id %q: %w", arg, err)
	}
	entry, err := app.Repo.Get(cmd.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	m, err := app.Registry.Get(entry.MediaType)
	if err != nil {
		return entry, nil, err
	}
	return entry, m, nil
}
