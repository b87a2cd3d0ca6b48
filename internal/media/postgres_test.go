package media

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/postgres"
	"github.com/cobbzilla/mediagoblin/internal/storage"
)

func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := postgres.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("postgres.New() error = %v", err)
	}
	t.Cleanup(pg.Close)
	if err := pg.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewPostgresRepository(pg)
}

func TestPostgresRepository(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	e := NewEntry("alice", "clip", "video", storage.Path{"queue", "clip.mp4"})
	e.CallbackURL = "http://localhost/hook"
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(context.Background(), e.ID) })

	if err := repo.BeginProcessing(ctx, e.ID, StateUnprocessed, time.Now()); err != nil {
		t.Fatalf("BeginProcessing() error = %v", err)
	}
	if err := repo.BeginProcessing(ctx, e.ID, StateUnprocessed, time.Now()); !errors.Is(err, ErrStateConflict) {
		t.Errorf("second BeginProcessing() error = %v, want ErrStateConflict", err)
	}

	webm := storage.Path{"media_entries", e.ID.String(), "clip.480p.webm"}
	if err := repo.SetMediaFile(ctx, e.ID, "webm_480p", webm); err != nil {
		t.Fatalf("SetMediaFile() error = %v", err)
	}
	if err := repo.SetFileMetadata(ctx, e.ID, "webm_480p", FileMetadata{"vp8_quality": 8}); err != nil {
		t.Fatalf("SetFileMetadata() error = %v", err)
	}
	if err := repo.SetMediaFile(ctx, e.ID, "thumb", storage.Path{"media_entries", e.ID.String(), "clip.thumbnail.jpg"}); err != nil {
		t.Fatalf("SetMediaFile() error = %v", err)
	}
	if err := repo.ClearQueuedMediaFile(ctx, e.ID); err != nil {
		t.Fatalf("ClearQueuedMediaFile() error = %v", err)
	}
	if err := repo.Finish(ctx, e.ID, StateProcessed, nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateProcessed || got.PriorState != StateUnprocessed {
		t.Errorf("Get() state = %s prior = %s", got.State, got.PriorState)
	}
	if !got.MediaFiles["webm_480p"].Equal(webm) || !got.HasFile("thumb") {
		t.Errorf("Get() media files = %v", got.MediaFiles)
	}
	if got.GetFileMetadata("webm_480p")["vp8_quality"] != float64(8) {
		t.Errorf("Get() file metadata = %v", got.FileMetadata)
	}
	if got.QueuedMediaFile != nil {
		t.Errorf("Get() queued file = %v, want nil", got.QueuedMediaFile)
	}
}
