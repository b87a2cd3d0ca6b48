package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/storage"
)

// Context is what a step works with: the entry as loaded at admission,
// its workbench, both stores and the repository. All entry writes go
// through single-slot repository calls and are mirrored on Entry.
type Context struct {
	Entry     *media.Entry
	Workbench *Workbench
	Public    storage.Storage
	Queue     storage.Storage
	Repo      media.Repository
	Logger    *slog.Logger

	processFile string
}

// CreatePubFilepath is the public store key for filename on this entry.
func (c *Context) CreatePubFilepath(filename string) storage.Path {
	name := storage.SecureFilename(filename)
	if name == "" {
		name = c.Entry.ID.String()
	}
	return storage.Path{"media_entries", c.Entry.ID.String(), name}
}

// NameBuilder derives output names from the uploaded filename, or from
// the stored original when the upload is gone.
func (c *Context) NameBuilder() FilenameBuilder {
	if len(c.Entry.QueuedMediaFile) > 0 {
		return NewFilenameBuilder(c.Entry.QueuedMediaFile.Base())
	}
	for _, slot := range []string{"original", "best_quality"} {
		if p, ok := c.Entry.MediaFiles[slot]; ok && len(p) > 0 {
			return NewFilenameBuilder(p.Base())
		}
	}
	return NewFilenameBuilder(c.Entry.ID.String())
}

// ProcessFile localizes the file a step should read: the queued upload
// if still present, else the first of acceptable slots the entry has.
func (c *Context) ProcessFile(ctx context.Context, acceptable ...string) (string, error) {
	if c.processFile != "" {
		return c.processFile, nil
	}

	var (
		store storage.Storage
		path  storage.Path
	)
	if len(c.Entry.QueuedMediaFile) > 0 {
		store, path = c.Queue, c.Entry.QueuedMediaFile
	} else {
		for _, slot := range acceptable {
			if p, ok := c.Entry.MediaFiles[slot]; ok && len(p) > 0 {
				store, path = c.Public, p
				break
			}
		}
	}
	if store == nil {
		return "", MissingComponents("no file to process among %v", acceptable).
			WithMetadata(map[string]any{"acceptable": acceptable})
	}

	local, err := c.Workbench.Localize(ctx, store, path, "source"+filepath.Ext(path.Base()))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", BadMedia("source file %s is missing", path.Key()).Wrap(err)
		}
		return "", err
	}
	c.processFile = local
	return local, nil
}

// StorePublic uploads localPath to target and records it under slot. A
// previous file in the slot at a different key is removed.
func (c *Context) StorePublic(ctx context.Context, slot, localPath string, target storage.Path) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("store %s: %w", slot, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("store %s: %w", slot, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(target.Base()))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := c.Public.Upload(ctx, target, f, contentType, info.Size()); err != nil {
		return fmt.Errorf("store %s: %w", slot, err)
	}

	old, had := c.Entry.MediaFiles[slot]
	if err := c.Repo.SetMediaFile(ctx, c.Entry.ID, slot, target); err != nil {
		return fmt.Errorf("record %s: %w", slot, err)
	}
	if c.Entry.MediaFiles == nil {
		c.Entry.MediaFiles = make(map[string]storage.Path)
	}
	c.Entry.MediaFiles[slot] = target

	if had && len(old) > 0 && !old.Equal(target) {
		if err := c.Public.Delete(ctx, old); err != nil {
			c.Log().Warn("failed to delete replaced file", "slot", slot, "key", old.Key(), "error", err)
		}
	}
	return nil
}

// CopyOriginal stores the file being processed as the original slot.
func (c *Context) CopyOriginal(ctx context.Context, localPath string) error {
	name := c.NameBuilder().Fill("{basename}{ext}")
	return c.StorePublic(ctx, "original", localPath, c.CreatePubFilepath(name))
}

// LinkSlot records an already stored public file under another slot.
func (c *Context) LinkSlot(ctx context.Context, slot string, path storage.Path) error {
	if err := c.Repo.SetMediaFile(ctx, c.Entry.ID, slot, path); err != nil {
		return fmt.Errorf("record %s: %w", slot, err)
	}
	if c.Entry.MediaFiles == nil {
		c.Entry.MediaFiles = make(map[string]storage.Path)
	}
	c.Entry.MediaFiles[slot] = path
	return nil
}

// DeleteSlot removes a slot's file and its record.
func (c *Context) DeleteSlot(ctx context.Context, slot string) error {
	p, ok := c.Entry.MediaFiles[slot]
	if !ok {
		return nil
	}
	if err := c.Public.Delete(ctx, p); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", slot, err)
	}
	if err := c.Repo.DeleteMediaFile(ctx, c.Entry.ID, slot); err != nil {
		return fmt.Errorf("delete %s record: %w", slot, err)
	}
	delete(c.Entry.MediaFiles, slot)
	delete(c.Entry.FileMetadata, slot)
	return nil
}

// DeleteQueueFile removes the staged upload once it is no longer needed.
func (c *Context) DeleteQueueFile(ctx context.Context) error {
	queued := c.Entry.QueuedMediaFile
	if len(queued) == 0 {
		return nil
	}
	if err := c.Queue.Delete(ctx, queued); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete queue file: %w", err)
	}
	if err := c.Repo.ClearQueuedMediaFile(ctx, c.Entry.ID); err != nil {
		return fmt.Errorf("clear queue file: %w", err)
	}
	c.Entry.QueuedMediaFile = nil
	return nil
}

func (c *Context) SetFileMetadata(ctx context.Context, slot string, md media.FileMetadata) error {
	if err := c.Repo.SetFileMetadata(ctx, c.Entry.ID, slot, md); err != nil {
		return fmt.Errorf("set %s metadata: %w", slot, err)
	}
	if c.Entry.FileMetadata == nil {
		c.Entry.FileMetadata = make(map[string]media.FileMetadata)
	}
	c.Entry.FileMetadata[slot] = md
	return nil
}

func (c *Context) SetMediaData(ctx context.Context, key string, value any) error {
	if err := c.Repo.SetMediaData(ctx, c.Entry.ID, key, value); err != nil {
		return fmt.Errorf("set media data %s: %w", key, err)
	}
	if c.Entry.MediaData == nil {
		c.Entry.MediaData = make(map[string]any)
	}
	c.Entry.MediaData[key] = value
	return nil
}

// Log returns the step logger, falling back to the default logger.
func (c *Context) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
