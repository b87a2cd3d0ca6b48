package webhook

import (
	"encoding/json"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/google/uuid"
)

const (
	EventEntryProcessing = "entry.processing"
	EventEntryProcessed  = "entry.processed"
	EventEntryFailed     = "entry.failed"
)

type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// StatusEvent reports an entry's state to observers such as a UI
// processing panel.
type StatusEvent struct {
	EntryID      string         `json:"entry_id"`
	State        string         `json:"state"`
	FailError    string         `json:"fail_error,omitempty"`
	FailMetadata map[string]any `json:"fail_metadata,omitempty"`
	Message      string         `json:"message,omitempty"`
}

func NewEvent(eventType string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Data:      dataBytes,
	}, nil
}

// StatusFromEntry builds the status of e. message is the user facing text
// for failures.
func StatusFromEntry(e *media.Entry, message string) StatusEvent {
	return StatusEvent{
		EntryID:      e.ID.String(),
		State:        string(e.State),
		FailError:    e.FailError,
		FailMetadata: e.FailMetadata,
		Message:      message,
	}
}

func eventType(state string) string {
	switch media.State(state) {
	case media.StateProcessed:
		return EventEntryProcessed
	case media.StateFailed:
		return EventEntryFailed
	default:
		return EventEntryProcessing
	}
}

func NewStatusEvent(status StatusEvent) (*Event, error) {
	return NewEvent(eventType(status.State), status)
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
