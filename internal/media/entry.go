package media

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/google/uuid"
)

type State string

const (
	StateUnprocessed State = "unprocessed"
	StateProcessing  State = "processing"
	StateProcessed   State = "processed"
	StateFailed      State = "failed"
)

var (
	ErrNotFound          = errors.New("media: entry not found")
	ErrStateConflict     = errors.New("media: entry state changed concurrently")
	ErrInvalidTransition = errors.New("media: invalid state transition")
)

var transitions = map[State][]State{
	StateUnprocessed: {StateProcessing},
	StateProcessing:  {StateProcessed, StateFailed},
	// processed -> processing is a re-derivation, failed -> processing an
	// explicit reprocess.
	StateProcessed: {StateProcessing},
	StateFailed:    {StateProcessing},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// FileMetadata is the free-form record kept next to a slot, e.g. the
// settings a derived file was produced with.
type FileMetadata map[string]any

// Failure is what gets recorded on an entry when processing fails.
type Failure struct {
	Classifier string
	Metadata   map[string]any
}

type Entry struct {
	ID        uuid.UUID `json:"id"`
	ActorID   string    `json:"actor_id"`
	Title     string    `json:"title"`
	MediaType string    `json:"media_type"`
	State     State     `json:"state"`

	FailError    string         `json:"fail_error,omitempty"`
	FailMetadata map[string]any `json:"fail_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// QueuedMediaFile is the staged upload in the queue store.
	QueuedMediaFile storage.Path            `json:"queued_media_file,omitempty"`
	MediaFiles      map[string]storage.Path `json:"media_files"`
	FileMetadata    map[string]FileMetadata `json:"file_metadata,omitempty"`
	// MediaData holds type specific data such as the original stream
	// metadata of a video.
	MediaData map[string]any `json:"media_data,omitempty"`

	CallbackURL string `json:"callback_url,omitempty"`

	// PriorState and ProcessingStartedAt are set by the admission gate and
	// read by reconciliation.
	PriorState          State      `json:"prior_state,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
}

// NewEntry creates an unprocessed entry for a staged upload.
func NewEntry(actorID, title, mediaType string, queued storage.Path) *Entry {
	return &Entry{
		ID:              uuid.New(),
		ActorID:         actorID,
		Title:           title,
		MediaType:       mediaType,
		State:           StateUnprocessed,
		CreatedAt:       time.Now().UTC(),
		QueuedMediaFile: queued,
		MediaFiles:      make(map[string]storage.Path),
		FileMetadata:    make(map[string]FileMetadata),
		MediaData:       make(map[string]any),
	}
}

func (e *Entry) String() string {
	return fmt.Sprintf("<MediaEntry %s %s %s>", e.ID, e.MediaType, e.State)
}

// GetFileMetadata returns the metadata of slot, or nil.
func (e *Entry) GetFileMetadata(slot string) FileMetadata {
	if e.FileMetadata == nil {
		return nil
	}
	return e.FileMetadata[slot]
}

func (e *Entry) HasFile(slot string) bool {
	p, ok := e.MediaFiles[slot]
	return ok && len(p) > 0
}

// Clone returns a deep enough copy for handing entries across goroutines.
func (e *Entry) Clone() *Entry {
	c := *e
	c.QueuedMediaFile = append(storage.Path(nil), e.QueuedMediaFile...)
	c.MediaFiles = make(map[string]storage.Path, len(e.MediaFiles))
	for k, v := range e.MediaFiles {
		c.MediaFiles[k] = append(storage.Path(nil), v...)
	}
	c.FileMetadata = make(map[string]FileMetadata, len(e.FileMetadata))
	for k, v := range e.FileMetadata {
		c.FileMetadata[k] = maps.Clone(v)
	}
	c.MediaData = maps.Clone(e.MediaData)
	c.FailMetadata = maps.Clone(e.FailMetadata)
	if e.ProcessingStartedAt != nil {
		t := *e.ProcessingStartedAt
		c.ProcessingStartedAt = &t
	}
	return &c
}
