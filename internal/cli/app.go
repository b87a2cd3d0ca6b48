package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/mediatypes"
	"github.com/cobbzilla/mediagoblin/internal/postgres"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/cobbzilla/mediagoblin/internal/tracing"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
	"github.com/cobbzilla/mediagoblin/internal/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Submitter hands a processing request to the worker fleet.
type Submitter interface {
	Submit(ctx context.Context, entryID uuid.UUID, feedURL, action string, params map[string]any) (string, error)
}

// App is what the commands operate on. With a nil Submitter requests run
// in this process.
type App struct {
	Config    *config.Config
	Repo      media.Repository
	Public    storage.Storage
	Queue     storage.Storage
	Registry  *processing.Registry
	Notifier  worker.StatusNotifier
	Submitter Submitter
	Exec      *worker.Executor
	Log       *slog.Logger

	closers []func()
}

// OpenApp connects to everything cfg names. Without a database the
// repository lives in memory and without redis requests run inline.
func OpenApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.Default()
	a := &App{Config: cfg, Log: log}

	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithMaxConns(4), postgres.WithConnectTimeout(cfg.DatabaseConnectTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		a.Repo = media.NewPostgresRepository(pg)
	} else {
		log.Warn("no database configured, entries will not outlive this command")
		a.Repo = media.NewMemoryRepository()
	}

	var err error
	if a.Public, err = storage.New(ctx, cfg.PublicStore); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create public storage: %w", err)
	}
	if a.Queue, err = storage.New(ctx, cfg.QueueStore); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create queue storage: %w", err)
	}

	if a.Registry, err = mediatypes.NewRegistry(cfg.Media, log); err != nil {
		a.Close()
		return nil, err
	}

	a.Notifier = webhook.NewNotifier(
		webhook.NewHTTPObserver(tracing.NewHTTPClient(cfg.Callback.Timeout), cfg.Callback.Secret, nil),
		webhook.NewLogObserver(log),
	)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.Submitter = worker.NewDispatcher(broker.NewRedisStreamsBroker(client,
			broker.WithWorkerID(fmt.Sprintf("mgctl-%d", os.Getpid())),
		))
	}

	if err := a.initExecutor(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initExecutor() error {
	wbm, err := processing.NewWorkbenchManager(a.Config.WorkbenchDir)
	if err != nil {
		return fmt.Errorf("failed to create workbench dir: %w", err)
	}
	a.Exec = worker.NewExecutor(&worker.Dependencies{
		Repo:        a.Repo,
		Registry:    a.Registry,
		Public:      a.Public,
		Queue:       a.Queue,
		Workbenches: wbm,
		Notifier:    a.Notifier,
		Groups:      worker.NewLocalGroups(nil, a.Config.Worker.GroupConcurrency),
	})
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Request is what process reports back.
type Request struct {
	EntryID string `json:"entry_id"`
	Action  string `json:"action"`
	JobID   string `json:"job_id,omitempty"`
	State   string `json:"state,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
}

// process submits the request, or runs it to completion when there is
// no queue.
func (a *App) process(ctx context.Context, entryID uuid.UUID, feedURL, action string, params map[string]any) (Request, error) {
	req := Request{EntryID: entryID.String(), Action: action}
	if a.Submitter != nil {
		id, err := a.Submitter.Submit(ctx, entryID, feedURL, action, params)
		if err != nil {
			return req, err
		}
		req.JobID = id
		return req, nil
	}

	out := a.Exec.NewJob(worker.ProcessRequest{
		EntryID: entryID,
		FeedURL: feedURL,
		Action:  action,
		Params:  params,
	}).Execute(ctx)
	req.State = string(out.State)
	req.Outcome = string(out.Kind)
	if out.Failure != nil {
		req.Error = out.Failure.Classifier
	}
	if out.Err != nil && out.Failure == nil {
		req.Error = out.Err.Error()
	}
	return req, nil
}
