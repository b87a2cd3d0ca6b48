package worker

import (
	"context"
	"fmt"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/cobbzilla/mediagoblin/internal/tracing"
	"github.com/google/uuid"
)

// Broker is the part of the job-queue broker the dispatcher needs.
type Broker interface {
	Enqueue(ctx context.Context, j *job.Job) error
}

// Dispatcher submits processing requests. Submission is asynchronous:
// completion is observed through status callbacks.
type Dispatcher struct {
	broker Broker
}

func NewDispatcher(b Broker) *Dispatcher {
	return &Dispatcher{broker: b}
}

// Submit enqueues a process_media job and returns its job id.
func (d *Dispatcher) Submit(ctx context.Context, entryID uuid.UUID, feedURL, action string, params map[string]any) (string, error) {
	ctx, span := tracing.StartJobEnqueueSpan(ctx, TypeProcessMedia, entryID.String())
	defer span.End()

	if action == "" {
		action = "initial"
	}
	payload := ProcessPayload{
		EntryID: entryID,
		FeedURL: feedURL,
		Action:  action,
		Params:  params,
		Trace:   tracing.InjectTraceContext(ctx),
	}

	j, err := job.New(TypeProcessMedia, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if err := d.broker.Enqueue(ctx, j); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.RecordJobEnqueued(TypeProcessMedia)
	return j.ID, nil
}
