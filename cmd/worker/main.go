package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"
	jqworker "github.com/abdul-hamid-achik/job-queue/pkg/worker"
	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/health"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/mediatypes"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/cobbzilla/mediagoblin/internal/postgres"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/push"
	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/cobbzilla/mediagoblin/internal/tracing"
	"github.com/cobbzilla/mediagoblin/internal/version"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
	"github.com/cobbzilla/mediagoblin/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()
	log.Info("configuration loaded", "version", version.Short(), "environment", cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "mediagoblin-worker", version.Short(), cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	zerologger := logger.Zerolog(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	log.Info("connecting to database")
	pg, err := postgres.New(ctx, cfg.DatabaseURL,
		postgres.WithMaxConns(int32(cfg.Worker.Concurrency+cfg.Worker.GroupConcurrency+2)),
		postgres.WithConnectTimeout(cfg.DatabaseConnectTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	repo := media.NewPostgresRepository(pg)
	log.Info("database connected")

	log.Info("connecting to object storage")
	public, err := storage.New(ctx, cfg.PublicStore)
	if err != nil {
		return fmt.Errorf("failed to create public storage: %w", err)
	}
	queue, err := storage.New(ctx, cfg.QueueStore)
	if err != nil {
		return fmt.Errorf("failed to create queue storage: %w", err)
	}
	publicStore := metrics.NewInstrumentedStorage(public)
	queueStore := metrics.NewInstrumentedStorage(queue)
	log.Info("object storage connected", "public", cfg.PublicStore.Backend, "queue", cfg.QueueStore.Backend)

	log.Info("connecting to redis")
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url for asynq: %w", err)
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer func() { _ = asynqClient.Close() }()

	registry, err := mediatypes.NewRegistry(cfg.Media, log)
	if err != nil {
		return fmt.Errorf("failed to build media registry: %w", err)
	}
	workbenches, err := processing.NewWorkbenchManager(cfg.WorkbenchDir)
	if err != nil {
		return fmt.Errorf("failed to create workbench dir: %w", err)
	}

	breaker := webhook.NewCircuitBreaker(5, time.Minute)
	observers := []webhook.Observer{
		webhook.NewHTTPObserver(tracing.NewHTTPClient(cfg.Callback.Timeout), cfg.Callback.Secret, breaker),
		webhook.NewLogObserver(log),
	}
	if cfg.Callback.RedisChannel != "" {
		observers = append(observers, webhook.NewRedisObserver(redisClient, cfg.Callback.RedisChannel))
	}
	notifier := webhook.NewNotifier(observers...)

	barrier := fanout.NewRedisBarrier(redisClient)
	groups := worker.NewAsynqGroups(asynqClient, cfg.Worker.MaxPriority, cfg.Worker.JobTimeout)

	deps := &worker.Dependencies{
		Repo:        repo,
		Registry:    registry,
		Public:      publicStore,
		Queue:       queueStore,
		Workbenches: workbenches,
		Notifier:    notifier,
		Groups:      groups,
	}
	if len(cfg.Push.URLs) > 0 {
		deps.Feeds = push.NewEnqueuer(asynqClient, cfg.Push.URLs, cfg.Push.RetryCount)
	}
	exec := worker.NewExecutor(deps)

	metrics.SetAppInfo(version.Short(), cfg.Environment, "worker")
	metrics.SetWorkerPoolSize(cfg.Worker.Concurrency)

	log.Info("registering job handlers")
	handlers := jqworker.NewRegistry()
	_ = handlers.Register(worker.TypeProcessMedia, worker.ProcessMediaHandler(exec))
	handlers.Use(
		middleware.RecoveryMiddleware(zerologger),
		middleware.LoggingMiddleware(zerologger),
		middleware.TimeoutMiddleware(cfg.Worker.JobTimeout),
		middleware.MetricsMiddleware(metrics.NewPrometheusCollector()),
	)

	b := broker.NewRedisStreamsBroker(redisClient,
		broker.WithWorkerID(fmt.Sprintf("worker-%d", os.Getpid())),
	)
	pool := jqworker.NewPool(b, handlers,
		jqworker.WithConcurrency(cfg.Worker.Concurrency),
		jqworker.WithPoolQueues([]string{"default"}),
		jqworker.WithPoolPollInterval(time.Second),
		jqworker.WithShutdownTimeout(30*time.Second),
		jqworker.WithPoolLogger(zerologger),
	)

	asynqLog := worker.NewAsynqLogger(log)
	srv := asynq.NewServer(asynqOpt, asynq.Config{
		Concurrency:    cfg.Worker.GroupConcurrency,
		Queues:         worker.Queues(cfg.Worker.MaxPriority),
		StrictPriority: true,
		RetryDelayFunc: push.RetryDelay(cfg.Push.RetryDelay),
		ErrorHandler:   worker.ErrorHandler(exec),
		Logger:         asynqLog,
		LogLevel:       asynqLogLevel(cfg.LogLevel),
	})

	gcDeps := &worker.GCDependencies{
		Repo:      repo,
		Public:    publicStore,
		Queue:     queueStore,
		Retention: cfg.GC.Retention,
		BatchSize: cfg.GC.BatchSize,
	}
	reconciler := worker.NewReconciler(repo, notifier, cfg.Reconcile.LivenessTimeout)

	mux := asynq.NewServeMux()
	mux.Handle(worker.TypeGroupTask, worker.GroupTaskHandler(exec, barrier, groups))
	mux.Handle(worker.TypeGroupCleanup, worker.GroupCleanupHandler(exec))
	mux.Handle(push.TypePublish, push.Handler(push.NewPublisher(tracing.NewHTTPClient(cfg.Push.Timeout), breaker)))
	mux.Handle(worker.TypeGC, worker.GCHandler(gcDeps))
	mux.Handle(worker.TypeReconcile, worker.ReconcileHandler(reconciler))

	scheduler := asynq.NewScheduler(asynqOpt, &asynq.SchedulerOpts{Logger: asynqLog})
	if err := worker.RegisterMaintenance(scheduler, cfg.GC.Interval, cfg.Reconcile.Interval); err != nil {
		return fmt.Errorf("failed to register maintenance tasks: %w", err)
	}

	checker := health.NewChecker().
		WithDatabase(pg.Pool).
		WithRedis(redisClient).
		WithStorage("public_store", publicStore).
		WithStorage("queue_store", queueStore)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.Handle("/health", health.LivenessHandler())
	metricsMux.Handle("/ready", health.ReadinessHandler(checker))

	metricsServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Worker.MetricsPort),
		Handler:           tracing.HTTPMiddleware("mediagoblin-worker")(metricsMux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "port", cfg.Worker.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	go publishLatency(ctx, redisClient, log)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	poolErr := make(chan error, 1)
	go func() {
		log.Info("starting worker pool", "concurrency", cfg.Worker.Concurrency)
		poolErr <- pool.Start(ctx)
	}()

	var runErr error
	select {
	case err := <-poolErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("worker pool error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error("error stopping pool", "error", err)
	}
	scheduler.Shutdown()
	srv.Shutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping metrics server", "error", err)
	}
	cancel()

	log.Info("worker stopped gracefully")
	return runErr
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch level {
	case "debug":
		return asynq.DebugLevel
	case "warn", "warning":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// publishLatency keeps this worker's p95 job latency visible to other
// processes until it stops.
func publishLatency(ctx context.Context, client *redis.Client, log *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	set := func(ctx context.Context, key string, value interface{}, exp time.Duration) error {
		return client.Set(ctx, key, value, exp).Err()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := metrics.PublishLatency(ctx, set); err != nil {
				log.Warn("failed to publish job latency", "error", err)
			}
		}
	}
}
