package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"
	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/tracing"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

// ProcessMediaHandler is the job-queue handler for process_media jobs.
// Classified failures are recorded on the entry and absorbed; only
// unexpected errors reach the queue, marked permanent so they are not
// run twice.
func ProcessMediaHandler(exec *Executor) func(context.Context, *job.Job) error {
	return func(ctx context.Context, j *job.Job) error {
		ctx = logger.WithJobID(ctx, j.ID)
		log := logger.FromContext(ctx).With("job_type", TypeProcessMedia)
		start := time.Now()

		var payload ProcessPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			log.Error("invalid payload", "error", err)
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}
		if payload.EntryID == uuid.Nil {
			return middleware.Permanent(errors.New("invalid payload: entry id is nil"))
		}

		ctx = tracing.ExtractTraceContext(ctx, payload.Trace)
		ctx, span := tracing.StartJobSpan(ctx, TypeProcessMedia, j.ID, payload.EntryID.String())
		defer span.End()
		ctx = logger.WithLogger(ctx, log)

		out := exec.NewJob(ProcessRequest{
			EntryID: payload.EntryID,
			FeedURL: payload.FeedURL,
			Action:  payload.Action,
			Params:  payload.Params,
		}).Execute(ctx)

		log.Info("job finished", "outcome", out.Kind, "state", out.State, "duration_ms", time.Since(start).Milliseconds())
		return jobError(span, out)
	}
}

func jobError(span trace.Span, out Outcome) error {
	if out.Err == nil {
		return nil
	}
	span.RecordError(out.Err)
	if out.Retryable {
		return out.Err
	}
	return middleware.Permanent(out.Err)
}

// GroupTaskHandler runs one member of a group and reports it to the
// barrier. The member that completes the group enqueues the
// continuation, or runs it inline when enqueueing fails.
func GroupTaskHandler(exec *Executor, barrier fanout.Barrier, groups *AsynqGroups) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p GroupTaskPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("invalid group task payload: %v: %w", err, asynq.SkipRetry)
		}
		ctx = tracing.ExtractTraceContext(ctx, p.Trace)
		taskID, _ := asynq.GetTaskID(ctx)
		ctx, span := tracing.StartJobSpan(ctx, TypeGroupTask+"."+p.Task.Name, taskID, p.Plan.EntryID)
		defer span.End()

		log := logger.FromContext(ctx).With("entry_id", p.Plan.EntryID, "group_id", p.Plan.GroupID, "task", p.Task.Name)
		ctx = logger.WithLogger(ctx, log)

		start := time.Now()
		res := exec.RunTask(ctx, p.Plan, p.Task)
		log.Info("group task finished", "ok", res.OK, "classifier", res.Classifier, "duration_ms", time.Since(start).Milliseconds())

		results, fire, err := barrier.Arrive(ctx, p.Plan.GroupID, p.Total, res)
		if errors.Is(err, fanout.ErrGroupComplete) {
			log.Warn("group already complete, dropping redelivered task")
			return nil
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("report task %s: %w", p.Task.Name, err)
		}
		if !fire {
			return nil
		}

		cleanup := GroupCleanupPayload{Plan: p.Plan, Results: results, Trace: tracing.InjectTraceContext(ctx)}
		if err := groups.enqueueCleanup(ctx, cleanup); err != nil {
			log.Error("failed to enqueue group cleanup, running inline", "error", err)
			out := exec.Continue(ctx, p.Plan, results)
			return asynqError(out)
		}
		return nil
	}
}

// GroupCleanupHandler runs the continuation of a completed group.
func GroupCleanupHandler(exec *Executor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p GroupCleanupPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("invalid group cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
		ctx = tracing.ExtractTraceContext(ctx, p.Trace)
		taskID, _ := asynq.GetTaskID(ctx)
		ctx, span := tracing.StartJobSpan(ctx, TypeGroupCleanup, taskID, p.Plan.EntryID)
		defer span.End()

		log := logger.FromContext(ctx).With("entry_id", p.Plan.EntryID, "group_id", p.Plan.GroupID)
		ctx = logger.WithLogger(ctx, log)

		out := exec.Continue(ctx, p.Plan, p.Results)
		log.Info("group cleanup finished", "outcome", out.Kind, "state", out.State)
		if out.Err != nil {
			span.RecordError(out.Err)
		}
		return asynqError(out)
	}
}

func asynqError(out Outcome) error {
	if out.Err == nil {
		return nil
	}
	if out.Retryable {
		return out.Err
	}
	return fmt.Errorf("%v: %w", out.Err, asynq.SkipRetry)
}

// ErrorHandler is the asynq failure hook. A continuation that will not be
// retried again is recorded on its entry through OnFailure.
func ErrorHandler(exec *Executor) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		log := logger.FromContext(ctx).With("task_type", t.Type(), "retried", retried, "max_retry", maxRetry)
		log.Error("task failed", "error", err)

		if t.Type() != TypeGroupCleanup {
			return
		}
		if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
			return
		}
		var p GroupCleanupPayload
		if jerr := json.Unmarshal(t.Payload(), &p); jerr != nil {
			return
		}
		entryID, perr := uuid.Parse(p.Plan.EntryID)
		if perr != nil {
			return
		}
		exec.OnFailure(ctx, entryID, err)
	}
}

// GCHandler runs a garbage collection pass from the scheduler.
func GCHandler(deps *GCDependencies) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		_, err := RunGarbageCollection(ctx, deps)
		return err
	}
}

// ReconcileHandler runs a reconciliation pass from the scheduler.
func ReconcileHandler(r *Reconciler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		_, err := r.Run(ctx)
		return err
	}
}
