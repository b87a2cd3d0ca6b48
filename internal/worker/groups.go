package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/tracing"
	"github.com/hibiken/asynq"
)

// LocalGroups runs every group in the calling process. Used by tests and
// by mgctl when no queue is configured.
type LocalGroups struct {
	barrier     fanout.Barrier
	concurrency int
}

func NewLocalGroups(barrier fanout.Barrier, concurrency int) *LocalGroups {
	if barrier == nil {
		barrier = fanout.NewMemoryBarrier()
	}
	return &LocalGroups{barrier: barrier, concurrency: concurrency}
}

func (g *LocalGroups) Dispatch(ctx context.Context, plan *fanout.Plan, members GroupMembers) (*Outcome, error) {
	header := plan.Header()
	var out *Outcome
	err := fanout.RunLocal(ctx, plan, g.concurrency, g.barrier,
		func(ctx context.Context, t fanout.Task) fanout.Result {
			return members.RunTask(ctx, header, t)
		},
		func(ctx context.Context, results []fanout.Result) error {
			o := members.Continue(ctx, header, results)
			out = &o
			return o.Err
		},
	)
	if f, ok := g.barrier.(interface{ Forget(string) }); ok {
		f.Forget(plan.GroupID)
	}
	if out == nil {
		return nil, err
	}
	// The continuation finalized the entry; its error is part of the
	// outcome, not a dispatch failure.
	if out.Err != nil {
		logger.FromContext(ctx).Error("group continuation failed", "group_id", plan.GroupID, "error", out.Err)
	}
	return out, nil
}

// AsynqGroups enqueues group members on the priority queues and lets the
// last arriving member enqueue the continuation.
type AsynqGroups struct {
	client      *asynq.Client
	maxPriority int
	timeout     time.Duration
}

func NewAsynqGroups(client *asynq.Client, maxPriority int, taskTimeout time.Duration) *AsynqGroups {
	return &AsynqGroups{client: client, maxPriority: maxPriority, timeout: taskTimeout}
}

func (g *AsynqGroups) Dispatch(ctx context.Context, plan *fanout.Plan, _ GroupMembers) (*Outcome, error) {
	header := plan.Header()
	trace := tracing.InjectTraceContext(ctx)

	var errs []error
	for _, t := range plan.Tasks {
		data, err := json.Marshal(GroupTaskPayload{Plan: header, Total: plan.Total(), Task: t, Trace: trace})
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", t.Name, err)
		}
		opts := []asynq.Option{
			asynq.Queue(QueueName(t.Priority, g.maxPriority)),
			asynq.MaxRetry(0),
			asynq.Retention(24 * time.Hour),
		}
		if g.timeout > 0 {
			opts = append(opts, asynq.Timeout(g.timeout))
		}
		if _, err := g.client.EnqueueContext(ctx, asynq.NewTask(TypeGroupTask, data), opts...); err != nil {
			errs = append(errs, fmt.Errorf("enqueue task %s: %w", t.Name, err))
		}
	}
	return nil, errors.Join(errs...)
}

// enqueueCleanup schedules the continuation of a completed group at the
// highest priority.
func (g *AsynqGroups) enqueueCleanup(ctx context.Context, p GroupCleanupPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal cleanup: %w", err)
	}
	_, err = g.client.EnqueueContext(ctx, asynq.NewTask(TypeGroupCleanup, data),
		asynq.Queue(QueueName(g.maxPriority, g.maxPriority)),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	return err
}
