package worker

import (
	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/tracing"
	"github.com/google/uuid"
)

const (
	// TypeProcessMedia is the job-queue job type of a processing request.
	TypeProcessMedia = "process_media"

	TypeGroupTask    = "group:task"
	TypeGroupCleanup = "group:cleanup"
	TypeGC           = "maintenance:gc"
	TypeReconcile    = "maintenance:reconcile"
)

// ProcessPayload is the body of a process_media job.
type ProcessPayload struct {
	EntryID uuid.UUID            `json:"entry_id"`
	FeedURL string               `json:"feed_url,omitempty"`
	Action  string               `json:"action"`
	Params  map[string]any       `json:"params,omitempty"`
	Trace   tracing.TraceCarrier `json:"trace,omitempty"`
}

// GroupTaskPayload carries one member of a fan-out group.
type GroupTaskPayload struct {
	Plan  fanout.Plan          `json:"plan"`
	Total int                  `json:"total"`
	Task  fanout.Task          `json:"task"`
	Trace tracing.TraceCarrier `json:"trace,omitempty"`
}

// GroupCleanupPayload carries the continuation of a completed group.
type GroupCleanupPayload struct {
	Plan    fanout.Plan          `json:"plan"`
	Results []fanout.Result      `json:"results"`
	Trace   tracing.TraceCarrier `json:"trace,omitempty"`
}
