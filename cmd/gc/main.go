package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/postgres"
	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
	"github.com/cobbzilla/mediagoblin/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("garbage collection failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("starting garbage collection")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithLogger(ctx, log)

	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	log.Info("connecting to database")
	pg, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithMaxConns(2), postgres.WithConnectTimeout(cfg.DatabaseConnectTimeout))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()
	repo := media.NewPostgresRepository(pg)
	log.Info("database connected")

	public, err := storage.New(ctx, cfg.PublicStore)
	if err != nil {
		return fmt.Errorf("failed to create public storage: %w", err)
	}
	queue, err := storage.New(ctx, cfg.QueueStore)
	if err != nil {
		return fmt.Errorf("failed to create queue storage: %w", err)
	}

	stats, err := worker.RunGarbageCollection(ctx, &worker.GCDependencies{
		Repo:      repo,
		Public:    public,
		Queue:     queue,
		Retention: cfg.GC.Retention,
		BatchSize: cfg.GC.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("garbage collection failed: %w", err)
	}

	reconciled, err := worker.NewReconciler(repo, webhook.NewNotifier(webhook.NewLogObserver(log)), cfg.Reconcile.LivenessTimeout).Run(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	log.Info("garbage collection completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"entries_deleted", stats.EntriesDeleted,
		"files_deleted", stats.FilesDeleted,
		"skipped", stats.Skipped,
		"storage_errors", stats.StorageDeleteErrors,
		"database_errors", stats.DatabaseDeleteErrors,
		"restored", reconciled.Restored,
		"failed_stale", reconciled.Failed,
	)
	return nil
}
