package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	jobIDKey   contextKey = "job_id"
	entryIDKey contextKey = "entry_id"
)

var defaultLogger *slog.Logger

func Init(level string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Zerolog builds the logger handed to the job-queue pool and middlewares,
// at the same level as the slog default.
func Zerolog(level string) zerolog.Logger {
	zl := zerolog.New(os.Stdout).With().Timestamp().Str("component", "job-queue").Logger()
	switch parseLevel(level) {
	case slog.LevelDebug:
		return zl.Level(zerolog.DebugLevel)
	case slog.LevelWarn:
		return zl.Level(zerolog.WarnLevel)
	case slog.LevelError:
		return zl.Level(zerolog.ErrorLevel)
	default:
		return zl.Level(zerolog.InfoLevel)
	}
}

func Default() *slog.Logger {
	if defaultLogger == nil {
		Init("info")
	}
	return defaultLogger
}

func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return Default()
}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func WithJobID(ctx context.Context, jobID string) context.Context {
	l := FromContext(ctx).With("job_id", jobID)
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	return WithLogger(ctx, l)
}

func WithEntryID(ctx context.Context, entryID string) context.Context {
	l := FromContext(ctx).With("entry_id", entryID)
	ctx = context.WithValue(ctx, entryIDKey, entryID)
	return WithLogger(ctx, l)
}

func JobID(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey).(string); ok {
		return id
	}
	return ""
}

func EntryID(ctx context.Context) string {
	if id, ok := ctx.Value(entryIDKey).(string); ok {
		return id
	}
	return ""
}

func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
