package cli

import (
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <entry-id>",
	Short: "Show an entry's processing state and stored files",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	entry, _, err := loadEntry(cmd, args[0])
	if entry == nil {
		return err
	}
	if printer.IsJSON() {
		return printer.JSON(entry)
	}

	printer.State(entry.ID.String(), string(entry.State), entry.FailError)
	printer.KeyValue("type", entry.MediaType)
	printer.KeyValue("title", entry.Title)
	if entry.QueuedMediaFile != nil {
		printer.KeyValue("queued", entry.QueuedMediaFile.String())
	}

	slots := make([]string, 0, len(entry.MediaFiles))
	for slot := range entry.MediaFiles {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	if len(slots) > 0 {
		printer.Section("Files")
		for _, slot := range slots {
			printer.KeyValue(slot, entry.MediaFiles[slot].String())
		}
	}
	return nil
}
