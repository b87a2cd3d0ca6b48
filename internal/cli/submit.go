package cli

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/cli/output"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Upload a file and queue its initial processing",
	Long: `Upload a file to the queue store, create its media entry and
start initial processing.

Examples:
  mgctl submit clip.mp4
  mgctl submit art.nfo --title "Cat" --callback-url https://example.com/hook
  mgctl submit photo.jpg --feed-url https://example.com/feed.atom`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var (
	submitTitle       string
	submitActor       string
	submitMediaType   string
	submitFeedURL     string
	submitCallbackURL string
)

func init() {
	submitCmd.Flags().StringVarP(&submitTitle, "title", "t", "", "Entry title (default: file name)")
	submitCmd.Flags().StringVar(&submitActor, "actor", os.Getenv("USER"), "Uploader id")
	submitCmd.Flags().StringVar(&submitMediaType, "type", "", "Media type (default: from the file extension)")
	submitCmd.Flags().StringVar(&submitFeedURL, "feed-url", "", "Feed to announce to PuSH hubs when done")
	submitCmd.Flags().StringVar(&submitCallbackURL, "callback-url", "", "URL notified of state changes")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	var (
		m   *processing.Manager
		err error
	)
	if submitMediaType != "" {
		m, err = app.Registry.Get(submitMediaType)
	} else {
		m, err = app.Registry.ForFilename(path)
	}
	if err != nil {
		return fmt.Errorf("cannot process %s: %w", filepath.Base(path), err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	name := storage.SecureFilename(filepath.Base(path))
	if name == "" {
		return fmt.Errorf("invalid file name %q", filepath.Base(path))
	}
	queued := storage.Path{"queue", uuid.NewString(), name}

	bar := output.NewByteProgress(info.Size(), "Uploading "+name, quietMode || jsonOutput)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if err := app.Queue.Upload(ctx, queued, io.TeeReader(f, bar), contentType, info.Size()); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	bar.Finish()
	printer.Info("Uploaded %s in %s", name, bar.Duration().Round(time.Millisecond))

	title := submitTitle
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	entry := media.NewEntry(submitActor, title, m.MediaType(), queued)
	entry.CallbackURL = submitCallbackURL
	if err := app.Repo.Create(ctx, entry); err != nil {
		_ = app.Queue.Delete(ctx, queued)
		return fmt.Errorf("failed to create entry: %w", err)
	}
	printer.Info("Created %s entry %s", m.MediaType(), entry.ID)

	req, err := processEntry(cmd, entry.ID, submitFeedURL, "initial", nil)
	if err != nil {
		return err
	}
	return reportRequest(req, "Entry")
}
