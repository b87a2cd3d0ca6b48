package mediatypes

import (
	"errors"
	"testing"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/processing"
)

func TestNewRegistry(t *testing.T) {
	cfg := config.Default().Media
	cfg.Video.FFmpegPath = "/nonexistent/ffmpeg"
	cfg.Video.FFprobePath = "/nonexistent/ffprobe"

	reg, err := NewRegistry(cfg, logger.NewTestLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		filename string
		want     string
	}{
		{"clip.mp4", "video"},
		{"clip.MKV", "video"},
		{"photo.jpeg", "image"},
		{"scan.tif", "image"},
		{"cat.nfo", "ascii"},
		{"notes.txt", "ascii"},
	}
	for _, tt := range tests {
		m, err := reg.ForFilename(tt.filename)
		if err != nil {
			t.Errorf("ForFilename(%q) error = %v", tt.filename, err)
			continue
		}
		if m.MediaType() != tt.want {
			t.Errorf("ForFilename(%q) = %s, want %s", tt.filename, m.MediaType(), tt.want)
		}
	}

	var nf *processing.ManagerNotFoundError
	if _, err := reg.ForFilename("drawing.svg"); !errors.As(err, &nf) {
		t.Errorf("ForFilename(svg) error = %v, want *ManagerNotFoundError", err)
	}
}

func TestNewRegistry_Disabled(t *testing.T) {
	cfg := config.Default().Media
	cfg.Video.Enabled = false
	cfg.Image.Enabled = false
	cfg.Ascii.Enabled = false

	if _, err := NewRegistry(cfg, logger.NewTestLogger()); err == nil {
		t.Error("NewRegistry() with nothing enabled succeeded")
	}

	cfg.Ascii.Enabled = true
	reg, err := NewRegistry(cfg, logger.NewTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Get("video"); err == nil {
		t.Error("Get(video) succeeded although video is disabled")
	}
}
