package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/cobbzilla/mediagoblin/internal/storage"
)

const defaultGCBatchSize = 100

type GCDependencies struct {
	Repo      media.Repository
	Public    storage.Storage
	Queue     storage.Storage
	Retention time.Duration
	BatchSize int
	Now       func() time.Time
}

type GCStats struct {
	EntriesDeleted       int `json:"entries_deleted"`
	FilesDeleted         int `json:"files_deleted"`
	Skipped              int `json:"skipped"`
	StorageDeleteErrors  int `json:"storage_delete_errors"`
	DatabaseDeleteErrors int `json:"database_delete_errors"`
}

// RunGarbageCollection deletes unprocessed entries older than the
// retention together with their files. An entry is removed from the
// repository only while it is still unprocessed, so uploads admitted
// concurrently are never touched.
func RunGarbageCollection(ctx context.Context, deps *GCDependencies) (*GCStats, error) {
	log := logger.FromContext(ctx)
	log.Info("starting garbage collection")
	start := time.Now()

	now := time.Now().UTC()
	if deps.Now != nil {
		now = deps.Now()
	}
	cutoff := now.Add(-deps.Retention)
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultGCBatchSize
	}

	stats := &GCStats{}
	seen := make(map[string]bool)
	for {
		entries, err := deps.Repo.ListByStateBefore(ctx, media.StateUnprocessed, cutoff, batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to list stale entries: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		progressed := false
		for _, e := range entries {
			if seen[e.ID.String()] {
				continue
			}
			seen[e.ID.String()] = true
			progressed = true
			collectEntry(ctx, deps, e, stats)
		}

		if !progressed || len(entries) < batchSize {
			break
		}
	}

	metrics.RecordGCDeleted("entry", stats.EntriesDeleted)
	metrics.RecordGCDeleted("file", stats.FilesDeleted)
	log.Info("garbage collection completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"entries_deleted", stats.EntriesDeleted,
		"files_deleted", stats.FilesDeleted,
		"skipped", stats.Skipped,
		"storage_errors", stats.StorageDeleteErrors,
		"database_errors", stats.DatabaseDeleteErrors,
	)
	return stats, nil
}

func collectEntry(ctx context.Context, deps *GCDependencies, e *media.Entry, stats *GCStats) {
	log := logger.FromContext(ctx).With("entry_id", e.ID.String())

	if err := deps.Repo.DeleteInState(ctx, e.ID, media.StateUnprocessed); err != nil {
		if errors.Is(err, media.ErrStateConflict) || errors.Is(err, media.ErrNotFound) {
			stats.Skipped++
			return
		}
		log.Warn("failed to delete entry", "error", err)
		stats.DatabaseDeleteErrors++
		return
	}
	stats.EntriesDeleted++

	for slot, p := range e.MediaFiles {
		deleteFile(ctx, deps.Public, p, stats, "slot", slot)
	}
	if len(e.QueuedMediaFile) > 0 && deps.Queue != nil {
		deleteFile(ctx, deps.Queue, e.QueuedMediaFile, stats, "slot", "queued")
	}
}

func deleteFile(ctx context.Context, store storage.Storage, p storage.Path, stats *GCStats, attrs ...any) {
	if store == nil || len(p) == 0 {
		return
	}
	if err := store.Delete(ctx, p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		logger.FromContext(ctx).Warn("failed to delete file from storage",
			append(attrs, "storage_key", p.Key(), "error", err)...)
		stats.StorageDeleteErrors++
		return
	}
	stats.FilesDeleted++
}
