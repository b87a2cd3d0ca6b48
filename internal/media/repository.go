package media

import (
	"context"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/google/uuid"
)

// Repository persists entries. Every mutating call is a single committed
// write; callers never read-modify-write a whole entry.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteInState deletes the entry only while it is in state.
	// ErrStateConflict otherwise.
	DeleteInState(ctx context.Context, id uuid.UUID, state State) error

	// BeginProcessing is the admission gate: it moves the entry from
	// `from` to processing only if its state is still `from`, recording
	// the prior state and start time. ErrStateConflict otherwise.
	BeginProcessing(ctx context.Context, id uuid.UUID, from State, at time.Time) error
	// Finish leaves processing for to (processed or failed). A nil
	// failure clears fail_error and fail_metadata. ErrStateConflict when
	// the entry is not processing.
	Finish(ctx context.Context, id uuid.UUID, to State, failure *Failure) error
	// MarkFailed records failure on an unprocessed or failed entry. Used
	// when no processor applies; ErrStateConflict for processed or
	// processing entries.
	MarkFailed(ctx context.Context, id uuid.UUID, failure Failure) error

	SetMediaFile(ctx context.Context, id uuid.UUID, slot string, path storage.Path) error
	DeleteMediaFile(ctx context.Context, id uuid.UUID, slot string) error
	SetFileMetadata(ctx context.Context, id uuid.UUID, slot string, md FileMetadata) error
	SetMediaData(ctx context.Context, id uuid.UUID, key string, value any) error
	ClearQueuedMediaFile(ctx context.Context, id uuid.UUID) error

	// ListByStateBefore returns up to limit entries in state whose
	// reference time (created_at, or processing_started_at for
	// processing) is older than before.
	ListByStateBefore(ctx context.Context, state State, before time.Time, limit int) ([]*Entry, error)
}
