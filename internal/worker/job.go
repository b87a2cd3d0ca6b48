package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
	"github.com/google/uuid"
)

type OutcomeKind string

const (
	OutcomeSucceeded     OutcomeKind = "succeeded"
	OutcomeFailed        OutcomeKind = "failed"
	OutcomeKeptProcessed OutcomeKind = "kept_processed"
	OutcomeDispatched    OutcomeKind = "dispatched"
	OutcomeRejected      OutcomeKind = "rejected"
)

// Outcome is the result of one job invocation. Failure is the classified
// failure recorded on the entry, if any. Err is set only when the queue
// transport should see an error as well.
type Outcome struct {
	Kind      OutcomeKind
	EntryID   uuid.UUID
	State     media.State
	Failure   *processing.Error
	Err       error
	Retryable bool
}

// ProcessRequest is one process_media invocation.
type ProcessRequest struct {
	EntryID uuid.UUID
	FeedURL string
	Action  string
	Params  map[string]any
}

// Executor runs processing jobs, fan-out members and continuations
// against a fixed set of dependencies.
type Executor struct {
	deps *Dependencies
}

func NewExecutor(deps *Dependencies) *Executor {
	return &Executor{deps: deps}
}

// ProcessJob is the state machine of a single process_media invocation.
type ProcessJob struct {
	exec *Executor
	req  ProcessRequest
	// entry is set once the job holds the entry.
	entry *media.Entry
}

func (e *Executor) NewJob(req ProcessRequest) *ProcessJob {
	if req.Action == "" {
		req.Action = "initial"
	}
	return &ProcessJob{exec: e, req: req}
}

// Execute runs the job to completion or hands it off to a group runner.
// A panic after admission is finalized like any unclassified step error.
func (j *ProcessJob) Execute(ctx context.Context) (out Outcome) {
	deps := j.exec.deps
	ctx = logger.WithEntryID(ctx, j.req.EntryID.String())
	log := logger.FromContext(ctx).With("action", j.req.Action)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during processing: %v", r)
			log.Error("job panicked", "panic", r)
			if j.entry != nil {
				out = j.exec.finalize(ctx, j.entry, j.req.FeedURL, j.req.Action, err)
				return
			}
			out = Outcome{Kind: OutcomeFailed, EntryID: j.req.EntryID, State: media.StateFailed, Err: err}
		}
	}()

	entry, err := deps.Repo.Get(ctx, j.req.EntryID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			log.Warn("entry not found, dropping job")
			return j.reject(err, false)
		}
		return j.reject(fmt.Errorf("load entry: %w", err), true)
	}

	// Double dispatch: whoever holds the entry finishes it.
	if entry.State == media.StateProcessing {
		log.Warn("entry already processing, rejecting job")
		return Outcome{Kind: OutcomeRejected, EntryID: entry.ID, State: entry.State}
	}

	log = log.With("media_type", entry.MediaType, "state", entry.State)

	step, params, perr := j.resolve(entry)
	if perr != nil {
		return j.refuse(ctx, log, entry, perr)
	}

	if err := deps.Repo.BeginProcessing(ctx, entry.ID, entry.State, deps.now()); err != nil {
		if errors.Is(err, media.ErrStateConflict) {
			log.Warn("entry admitted by another job, rejecting")
			return Outcome{Kind: OutcomeRejected, EntryID: entry.ID, State: media.StateProcessing}
		}
		return j.reject(fmt.Errorf("admit entry: %w", err), true)
	}
	entry.PriorState = entry.State
	entry.State = media.StateProcessing
	j.entry = entry
	metrics.RecordTransition(entry.MediaType, string(media.StateProcessing))
	j.exec.notify(ctx, entry, "")
	log.Info("job started", "step", step.Name())

	wb, err := deps.Workbenches.Create()
	if err != nil {
		return j.exec.finalize(ctx, entry, j.req.FeedURL, j.req.Action, err)
	}
	defer func() {
		if err := wb.Destroy(); err != nil {
			log.Warn("failed to remove workbench", "dir", wb.Dir(), "error", err)
		}
	}()

	pc := &processing.Context{
		Entry:     entry,
		Workbench: wb,
		Public:    deps.Public,
		Queue:     deps.Queue,
		Repo:      deps.Repo,
		Logger:    log,
	}

	if fs, ok := step.(processing.FanOutStep); ok && deps.Groups != nil {
		return j.dispatch(ctx, log, pc, fs, params)
	}

	err = step.Process(ctx, pc, params)
	return j.exec.finalize(ctx, entry, j.req.FeedURL, j.req.Action, err)
}

func (j *ProcessJob) resolve(entry *media.Entry) (processing.Step, processing.Params, error) {
	mgr, err := j.exec.deps.Registry.Get(entry.MediaType)
	if err != nil {
		return nil, nil, err
	}
	step, err := mgr.GetProcessor(j.req.Action, entry)
	if err != nil {
		return nil, nil, err
	}
	params, err := processing.Normalize(step.Params(), j.req.Params)
	if err != nil {
		return nil, nil, processing.InvalidParams("%s: %v", step.Name(), err).Wrap(err)
	}
	return step, params, nil
}

// refuse records a failure found before admission. A processed entry is
// never taken offline by a bad request.
func (j *ProcessJob) refuse(ctx context.Context, log *slog.Logger, entry *media.Entry, cause error) Outcome {
	res := processing.Classify(cause)
	log.Error("cannot process entry", "classifier", res.Err.Classifier, "error", cause)
	metrics.RecordOutcome(entry.MediaType, j.req.Action, string(OutcomeFailed), res.Err.Classifier)

	if err := j.exec.deps.Repo.MarkFailed(ctx, entry.ID, res.Err.Failure()); err != nil {
		if errors.Is(err, media.ErrStateConflict) && entry.State == media.StateProcessed {
			return Outcome{Kind: OutcomeKeptProcessed, EntryID: entry.ID, State: media.StateProcessed, Failure: res.Err}
		}
		if errors.Is(err, media.ErrStateConflict) {
			// Admitted by another job in the meantime.
			return Outcome{Kind: OutcomeRejected, EntryID: entry.ID, State: media.StateProcessing, Failure: res.Err}
		}
		return Outcome{Kind: OutcomeFailed, EntryID: entry.ID, State: entry.State, Failure: res.Err, Err: fmt.Errorf("mark failed: %w", err)}
	}

	failed := entry.Clone()
	failed.State = media.StateFailed
	failed.FailError = res.Err.Classifier
	failed.FailMetadata = res.Err.Failure().Metadata
	metrics.RecordTransition(entry.MediaType, string(media.StateFailed))
	j.exec.notify(ctx, failed, res.Err.SafeMessage())
	return Outcome{Kind: OutcomeFailed, EntryID: entry.ID, State: media.StateFailed, Failure: res.Err}
}

func (j *ProcessJob) dispatch(ctx context.Context, log *slog.Logger, pc *processing.Context, fs processing.FanOutStep, params processing.Params) Outcome {
	entry := pc.Entry
	plan, err := fs.Plan(ctx, pc, params)
	if err != nil {
		return j.exec.finalize(ctx, entry, j.req.FeedURL, j.req.Action, err)
	}
	plan.GroupID = uuid.NewString()
	plan.EntryID = entry.ID.String()
	plan.MediaType = entry.MediaType
	plan.Action = j.req.Action
	plan.FeedURL = j.req.FeedURL
	plan.PriorState = string(entry.PriorState)

	log.Info("dispatching group", "group_id", plan.GroupID, "tasks", plan.Total())
	done, err := j.exec.deps.Groups.Dispatch(ctx, plan, j.exec)
	if err != nil {
		return j.exec.finalize(ctx, entry, j.req.FeedURL, j.req.Action, fmt.Errorf("dispatch group: %w", err))
	}
	if done != nil {
		return *done
	}
	return Outcome{Kind: OutcomeDispatched, EntryID: entry.ID, State: media.StateProcessing}
}

func (j *ProcessJob) reject(err error, retryable bool) Outcome {
	return Outcome{Kind: OutcomeRejected, EntryID: j.req.EntryID, Err: err, Retryable: retryable}
}

// finalize moves an admitted entry out of processing according to the
// step's error.
func (e *Executor) finalize(ctx context.Context, entry *media.Entry, feedURL, action string, stepErr error) Outcome {
	log := logger.FromContext(ctx).With("media_type", entry.MediaType, "action", action)
	res := processing.Classify(stepErr)

	switch {
	case res.OK():
		if err := e.finish(ctx, entry, media.StateProcessed, nil); err != nil {
			return Outcome{Kind: OutcomeFailed, EntryID: entry.ID, State: media.StateProcessing, Err: err}
		}
		metrics.RecordOutcome(entry.MediaType, action, string(OutcomeSucceeded), "")
		log.Info("job completed")
		e.notify(ctx, entry, "")
		e.publish(ctx, feedURL)
		return Outcome{Kind: OutcomeSucceeded, EntryID: entry.ID, State: media.StateProcessed}

	case entry.PriorState == media.StateProcessed:
		log.Error("reprocessing failed, keeping last good files",
			"classifier", res.Err.Classifier, "error", stepErr)
		if err := e.finish(ctx, entry, media.StateProcessed, nil); err != nil {
			return Outcome{Kind: OutcomeFailed, EntryID: entry.ID, State: media.StateProcessing, Failure: res.Err, Err: err}
		}
		metrics.RecordOutcome(entry.MediaType, action, string(OutcomeKeptProcessed), res.Err.Classifier)
		e.notify(ctx, entry, "")
		e.publish(ctx, feedURL)
		return Outcome{Kind: OutcomeKeptProcessed, EntryID: entry.ID, State: media.StateProcessed, Failure: res.Err}

	default:
		failure := res.Err.Failure()
		log.Error("job failed", "classifier", res.Err.Classifier, "error", stepErr)
		if err := e.finish(ctx, entry, media.StateFailed, &failure); err != nil {
			return Outcome{Kind: OutcomeFailed, EntryID: entry.ID, State: media.StateProcessing, Failure: res.Err, Err: err}
		}
		metrics.RecordOutcome(entry.MediaType, action, string(OutcomeFailed), res.Err.Classifier)
		e.notify(ctx, entry, res.Err.SafeMessage())

		out := Outcome{Kind: OutcomeFailed, EntryID: entry.ID, State: media.StateFailed, Failure: res.Err}
		if !res.Classified() {
			out.Err = stepErr
		}
		return out
	}
}

// finish persists the final state and mirrors it on entry. A state
// conflict means somebody else already finalized the entry.
func (e *Executor) finish(ctx context.Context, entry *media.Entry, to media.State, failure *media.Failure) error {
	err := e.deps.Repo.Finish(ctx, entry.ID, to, failure)
	if errors.Is(err, media.ErrStateConflict) {
		logger.FromContext(ctx).Warn("entry already finalized", "to", to)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish entry: %w", err)
	}
	entry.State = to
	entry.ProcessingStartedAt = nil
	entry.FailError, entry.FailMetadata = "", nil
	if failure != nil {
		entry.FailError = failure.Classifier
		entry.FailMetadata = failure.Metadata
	}
	metrics.RecordTransition(entry.MediaType, string(to))
	return nil
}

// OnFailure is the backstop for failures that bypassed finalize. It only
// acts on entries still in processing, so recording twice is harmless.
// An entry that was processed before the job goes back to processed.
func (e *Executor) OnFailure(ctx context.Context, entryID uuid.UUID, cause error) {
	log := logger.FromContext(ctx).With("entry_id", entryID.String())
	res := processing.Classify(cause)

	entry, err := e.deps.Repo.Get(ctx, entryID)
	if err != nil {
		if !errors.Is(err, media.ErrNotFound) {
			log.Error("failed to load entry for failure", "error", err, "cause", cause)
		}
		return
	}
	if entry.State != media.StateProcessing {
		return
	}

	to, message := media.StateFailed, res.Err.SafeMessage()
	failure := res.Err.Failure()
	fp := &failure
	if entry.PriorState == media.StateProcessed {
		to, message, fp = media.StateProcessed, "", nil
	}

	err = e.deps.Repo.Finish(ctx, entryID, to, fp)
	switch {
	case errors.Is(err, media.ErrStateConflict), errors.Is(err, media.ErrNotFound):
		return
	case err != nil:
		log.Error("failed to record failure", "error", err, "cause", cause)
		return
	}
	log.Error("recorded failure from backstop", "classifier", res.Err.Classifier, "to", to, "cause", cause)

	entry.State = to
	entry.ProcessingStartedAt = nil
	entry.FailError, entry.FailMetadata = "", nil
	if fp != nil {
		entry.FailError, entry.FailMetadata = fp.Classifier, fp.Metadata
	}
	metrics.RecordTransition(entry.MediaType, string(to))
	e.notify(ctx, entry, message)
}

func (e *Executor) notify(ctx context.Context, entry *media.Entry, message string) {
	if e.deps.Notifier == nil {
		return
	}
	e.deps.Notifier.Notify(ctx, entry.CallbackURL, webhook.StatusFromEntry(entry, message))
}

func (e *Executor) publish(ctx context.Context, feedURL string) {
	if feedURL == "" || e.deps.Feeds == nil {
		return
	}
	if err := e.deps.Feeds.Enqueue(ctx, feedURL); err != nil {
		logger.FromContext(ctx).Warn("failed to schedule push notification", "feed_url", feedURL, "error", err)
	}
}

// RunTask executes one member of a fan-out group. It never returns an
// error: failures become part of the result.
func (e *Executor) RunTask(ctx context.Context, header fanout.Plan, task fanout.Task) (res fanout.Result) {
	log := logger.FromContext(ctx).With("group_id", header.GroupID, "task", task.Name)
	defer func() {
		if r := recover(); r != nil {
			log.Error("group task panicked", "panic", r)
			res = processing.TaskResult(task, fmt.Errorf("panic in task %s: %v", task.Name, r))
		}
		metrics.RecordFanoutTask(task.Name, res.OK)
	}()

	pc, fs, cleanup, err := e.groupContext(ctx, log, header)
	if err != nil {
		return processing.TaskResult(task, err)
	}
	defer cleanup()

	return processing.TaskResult(task, fs.RunTask(ctx, pc, task))
}

// Continue runs a group's continuation and finalizes the entry.
func (e *Executor) Continue(ctx context.Context, header fanout.Plan, results []fanout.Result) Outcome {
	log := logger.FromContext(ctx).With("group_id", header.GroupID)
	entryID, err := uuid.Parse(header.EntryID)
	if err != nil {
		return Outcome{Kind: OutcomeRejected, Err: fmt.Errorf("invalid entry id %q: %w", header.EntryID, err)}
	}

	pc, fs, cleanup, err := e.groupContext(ctx, log, header)
	if err != nil {
		if errors.Is(err, errNotProcessing) {
			log.Warn("entry left processing before group completed")
			return Outcome{Kind: OutcomeRejected, EntryID: entryID}
		}
		if errors.Is(err, media.ErrNotFound) {
			return Outcome{Kind: OutcomeRejected, EntryID: entryID, Err: err}
		}
		if pc == nil {
			return Outcome{Kind: OutcomeFailed, EntryID: entryID, Err: err, Retryable: true}
		}
		return e.finalize(ctx, pc.Entry, header.FeedURL, header.Action, err)
	}
	defer cleanup()

	main, _ := fanout.MainResult(results)
	metrics.RecordFanoutGroup(main.OK)
	log.Info("group completed", "results", len(results), "main_ok", main.OK)

	contErr := fs.Continue(ctx, pc, results)
	return e.finalize(ctx, pc.Entry, header.FeedURL, header.Action, contErr)
}

var errNotProcessing = errors.New("worker: entry is not processing")

// groupContext loads the entry of a group and resolves its step the way
// admission did, against the entry's prior state.
func (e *Executor) groupContext(ctx context.Context, log *slog.Logger, header fanout.Plan) (*processing.Context, processing.FanOutStep, func(), error) {
	entryID, err := uuid.Parse(header.EntryID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid entry id %q: %w", header.EntryID, err)
	}
	entry, err := e.deps.Repo.Get(ctx, entryID)
	if err != nil {
		return nil, nil, nil, err
	}
	if entry.State != media.StateProcessing {
		return nil, nil, nil, errNotProcessing
	}

	pc := &processing.Context{
		Entry:  entry,
		Public: e.deps.Public,
		Queue:  e.deps.Queue,
		Repo:   e.deps.Repo,
		Logger: log,
	}

	mgr, err := e.deps.Registry.Get(entry.MediaType)
	if err != nil {
		return pc, nil, nil, err
	}
	probe := entry.Clone()
	probe.State = media.State(header.PriorState)
	step, err := mgr.GetProcessor(header.Action, probe)
	if err != nil {
		return pc, nil, nil, err
	}
	fs, ok := step.(processing.FanOutStep)
	if !ok {
		return pc, nil, nil, fmt.Errorf("step %s does not support groups", step.Name())
	}

	wb, err := e.deps.Workbenches.Create()
	if err != nil {
		return pc, nil, nil, err
	}
	pc.Workbench = wb
	cleanup := func() {
		if err := wb.Destroy(); err != nil {
			log.Warn("failed to remove workbench", "dir", wb.Dir(), "error", err)
		}
	}
	return pc, fs, cleanup, nil
}
