package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/push"
	"github.com/hibiken/asynq"
)

const MaintenanceQueue = "maintenance"

// QueueName maps a task priority onto its queue. Priorities outside
// 1..maxPriority are clamped.
func QueueName(priority, maxPriority int) string {
	if maxPriority < 1 {
		maxPriority = 1
	}
	if priority < 1 {
		priority = 1
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	return fmt.Sprintf("default-p%d", priority)
}

// Queues returns the asynq queue weights: one queue per priority, weighted
// by priority, plus the push and maintenance queues.
func Queues(maxPriority int) map[string]int {
	if maxPriority < 1 {
		maxPriority = 1
	}
	qs := make(map[string]int, maxPriority+2)
	for p := 1; p <= maxPriority; p++ {
		qs[QueueName(p, maxPriority)] = p
	}
	qs[push.QueueName] = 2
	qs[MaintenanceQueue] = 1
	return qs
}

// RegisterMaintenance schedules the periodic gc and reconcile tasks.
// Zero intervals disable the task.
func RegisterMaintenance(s *asynq.Scheduler, gcEvery, reconcileEvery time.Duration) error {
	for _, m := range []struct {
		typ   string
		every time.Duration
	}{
		{TypeGC, gcEvery},
		{TypeReconcile, reconcileEvery},
	} {
		if m.every <= 0 {
			continue
		}
		spec := "@every " + m.every.String()
		task := asynq.NewTask(m.typ, nil)
		if _, err := s.Register(spec, task, asynq.Queue(MaintenanceQueue), asynq.MaxRetry(0), asynq.Unique(m.every)); err != nil {
			return fmt.Errorf("register %s: %w", m.typ, err)
		}
	}
	return nil
}

// AsynqLogger adapts slog to asynq.Logger.
type AsynqLogger struct {
	log *slog.Logger
}

func NewAsynqLogger(log *slog.Logger) *AsynqLogger {
	return &AsynqLogger{log: log.With("component", "asynq")}
}

func (l *AsynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }

func (l *AsynqLogger) Fatal(args ...any) {
	l.log.Log(context.Background(), slog.LevelError+4, fmt.Sprint(args...))
	os.Exit(1)
}
