package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []webhook.StatusEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, callbackURL string, status webhook.StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, status)
}

func (n *recordingNotifier) States() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.State)
	}
	return out
}

func (n *recordingNotifier) Last() webhook.StatusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return webhook.StatusEvent{}
	}
	return n.events[len(n.events)-1]
}

type recordingFeeds struct {
	mu    sync.Mutex
	feeds []string
	err   error
}

func (f *recordingFeeds) Enqueue(ctx context.Context, feedURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds = append(f.feeds, feedURL)
	return f.err
}

func (f *recordingFeeds) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feeds)
}

type mockBroker struct {
	mu   sync.Mutex
	jobs []*job.Job
	err  error
}

func (b *mockBroker) Enqueue(ctx context.Context, j *job.Job) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = append(b.jobs, j)
	return nil
}

// funcStep is a step whose Process is supplied by the test.
type funcStep struct {
	processing.StepInfo
	process func(ctx context.Context, pc *processing.Context, params processing.Params) error
}

func (s *funcStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	return s.process(ctx, pc, params)
}

func newFuncStep(action string, states []media.State, fn func(context.Context, *processing.Context, processing.Params) error) *funcStep {
	return &funcStep{
		StepInfo: processing.StepInfo{Action: action, Summary: action, States: states},
		process:  fn,
	}
}

// groupStep writes one public file per task and fails the entry when the
// main task failed.
type groupStep struct {
	processing.StepInfo
	tasks []string
	fail  map[string]error
}

func (s *groupStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	plan, err := s.Plan(ctx, pc, params)
	if err != nil {
		return err
	}
	var results []fanout.Result
	for _, t := range plan.Tasks {
		results = append(results, processing.TaskResult(t, s.RunTask(ctx, pc, t)))
	}
	return s.Continue(ctx, pc, results)
}

func (s *groupStep) Plan(ctx context.Context, pc *processing.Context, params processing.Params) (*fanout.Plan, error) {
	plan := &fanout.Plan{}
	for i, name := range s.tasks {
		plan.Tasks = append(plan.Tasks, fanout.Task{Index: i, Name: name, Priority: len(s.tasks) - i, Main: i == 0})
	}
	return plan, nil
}

func (s *groupStep) RunTask(ctx context.Context, pc *processing.Context, task fanout.Task) error {
	if err := s.fail[task.Name]; err != nil {
		return err
	}
	p := pc.CreatePubFilepath(task.Name + ".out")
	data := []byte(task.Name)
	if err := pc.Public.Upload(ctx, p, bytes.NewReader(data), "application/octet-stream", int64(len(data))); err != nil {
		return err
	}
	return pc.Repo.SetMediaFile(ctx, pc.Entry.ID, task.Name, p)
}

func (s *groupStep) Continue(ctx context.Context, pc *processing.Context, results []fanout.Result) error {
	main, ok := fanout.MainResult(results)
	if !ok {
		return errors.New("no main result")
	}
	if perr := processing.ErrorFromResult(main); perr != nil {
		return perr
	}
	return nil
}

type testEnv struct {
	repo     *media.MemoryRepository
	public   *storage.MemoryStorage
	queue    *storage.MemoryStorage
	notifier *recordingNotifier
	feeds    *recordingFeeds
	manager  *processing.Manager
	deps     *Dependencies
	exec     *Executor
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	wbm, err := processing.NewWorkbenchManager(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		repo:     media.NewMemoryRepository(),
		public:   storage.NewMemoryStorage(),
		queue:    storage.NewMemoryStorage(),
		notifier: &recordingNotifier{},
		feeds:    &recordingFeeds{},
		manager:  processing.NewManager("test", processing.WithExtensions("bin")),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	registry := processing.NewRegistry()
	require.NoError(t, registry.Register(env.manager))

	env.deps = &Dependencies{
		Repo:        env.repo,
		Registry:    registry,
		Public:      env.public,
		Queue:       env.queue,
		Workbenches: wbm,
		Notifier:    env.notifier,
		Feeds:       env.feeds,
		Now:         func() time.Time { return env.now },
	}
	env.exec = NewExecutor(env.deps)
	return env
}

func (env *testEnv) createEntry(t *testing.T, state media.State) *media.Entry {
	t.Helper()
	ctx := context.Background()
	queued := storage.Path{"queue", "upload.bin"}
	require.NoError(t, env.queue.Upload(ctx, queued, bytes.NewReader([]byte("data")), "application/octet-stream", 4))

	e := media.NewEntry("alice", "upload", "test", queued)
	e.CallbackURL = "http://localhost/callback"
	require.NoError(t, env.repo.Create(ctx, e))

	switch state {
	case media.StateUnprocessed:
	case media.StateProcessing:
		require.NoError(t, env.repo.BeginProcessing(ctx, e.ID, media.StateUnprocessed, env.now))
	case media.StateProcessed, media.StateFailed:
		require.NoError(t, env.repo.BeginProcessing(ctx, e.ID, media.StateUnprocessed, env.now))
		var failure *media.Failure
		if state == media.StateFailed {
			failure = &media.Failure{Classifier: processing.ClassBadMedia}
		}
		require.NoError(t, env.repo.Finish(ctx, e.ID, state, failure))
	}

	got, err := env.repo.Get(ctx, e.ID)
	require.NoError(t, err)
	return got
}

func (env *testEnv) get(t *testing.T, e *media.Entry) *media.Entry {
	t.Helper()
	got, err := env.repo.Get(context.Background(), e.ID)
	require.NoError(t, err)
	return got
}

func testContext() context.Context {
	return logger.WithLogger(context.Background(), logger.NewTestLogger())
}
