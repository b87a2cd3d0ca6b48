package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContextIDs(t *testing.T) {
	ctx := WithLogger(context.Background(), NewTestLogger())
	ctx = WithJobID(ctx, "job-1")
	ctx = WithEntryID(ctx, "entry-1")

	if got := JobID(ctx); got != "job-1" {
		t.Errorf("JobID() = %q, want job-1", got)
	}
	if got := EntryID(ctx); got != "entry-1" {
		t.Errorf("EntryID() = %q, want entry-1", got)
	}
	if EntryID(context.Background()) != "" {
		t.Error("EntryID() on empty context should be empty")
	}
}

func TestZerologLevel(t *testing.T) {
	if got := Zerolog("debug").GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("Zerolog(debug) level = %v, want debug", got)
	}
	if got := Zerolog("nope").GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("Zerolog(nope) level = %v, want info", got)
	}
}
