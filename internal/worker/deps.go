package worker

import (
	"context"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
)

// StatusNotifier reports entry state to interested observers. It never
// fails the caller.
type StatusNotifier interface {
	Notify(ctx context.Context, callbackURL string, status webhook.StatusEvent)
}

// FeedPublisher schedules hub notifications for a feed.
type FeedPublisher interface {
	Enqueue(ctx context.Context, feedURL string) error
}

// GroupMembers is what a group runner calls back into: one call per task
// and a single continuation.
type GroupMembers interface {
	RunTask(ctx context.Context, header fanout.Plan, task fanout.Task) fanout.Result
	Continue(ctx context.Context, header fanout.Plan, results []fanout.Result) Outcome
}

// GroupRunner executes a fan-out plan. Dispatch returns once the tasks
// are handed off with a nil Outcome. Runners that execute in process
// return after the continuation ran, with its Outcome.
type GroupRunner interface {
	Dispatch(ctx context.Context, plan *fanout.Plan, members GroupMembers) (*Outcome, error)
}

type Dependencies struct {
	Repo        media.Repository
	Registry    *processing.Registry
	Public      storage.Storage
	Queue       storage.Storage
	Workbenches *processing.WorkbenchManager

	// Optional collaborators.
	Notifier StatusNotifier
	Feeds    FeedPublisher
	Groups   GroupRunner

	Now func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}
