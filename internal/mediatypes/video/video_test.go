package video

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/storage"
)

func skipIfNoFFmpeg(t *testing.T) *Tools {
	t.Helper()
	tools, err := LookupTools("ffmpeg", "ffprobe")
	if err != nil {
		t.Skip("ffmpeg not available, skipping test")
	}
	return tools
}

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "vp8", "width": 640, "height": 360, "r_frame_rate": "30/1"},
    {"index": 1, "codec_type": "audio", "codec_name": "vorbis", "channels": 2, "sample_rate": "44100", "bit_rate": "128000"},
    {"index": 2, "codec_type": "video", "codec_name": "mjpeg", "width": 300, "height": 300, "disposition": {"attached_pic": 1}}
  ],
  "format": {"format_name": "matroska,webm", "duration": "12.5", "size": "1048576", "bit_rate": "671088", "tags": {"title": "clip"}}
}`

func TestParseProbe(t *testing.T) {
	md, err := parseProbe([]byte(probeJSON), "/tmp/clip.webm")
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if md.MimeType != "video/webm" {
		t.Errorf("MimeType = %q, want video/webm", md.MimeType)
	}
	if len(md.Video) != 1 || md.Width() != 640 || md.Height() != 360 {
		t.Errorf("video streams = %+v", md.Video)
	}
	if !md.HasAudio() {
		t.Error("HasAudio() = false, want true")
	}
	if md.Duration != 12.5 {
		t.Errorf("Duration = %v, want 12.5", md.Duration)
	}

	stored := md.Stored()
	for _, key := range []string{"common", "video", "audio"} {
		if _, ok := stored[key]; !ok {
			t.Errorf("Stored() missing %q", key)
		}
	}
}

func TestParseProbe_InvalidJSON(t *testing.T) {
	if _, err := parseProbe([]byte("not json"), "x.mp4"); err == nil {
		t.Error("parseProbe() error = nil, want error")
	}
}

func TestSkipTranscode(t *testing.T) {
	cfg := config.Default().Media.Video.SkipTranscode
	webm := func() *Metadata {
		md, _ := parseProbe([]byte(probeJSON), "clip.webm")
		return md
	}

	tests := []struct {
		name   string
		cfg    config.SkipTranscodeConfig
		md     func() *Metadata
		size   processing.Size
		expect bool
	}{
		{"web ready source", cfg, webm, processing.Size{858, 480}, true},
		{"too large for box", cfg, webm, processing.Size{480, 360}, false},
		{"dimensions ignored", config.SkipTranscodeConfig{VideoCodecs: []string{"vp8"}}, webm, processing.Size{10, 10}, true},
		{"wrong video codec", config.SkipTranscodeConfig{VideoCodecs: []string{"h264"}}, webm, processing.Size{858, 480}, false},
		{"wrong audio codec", config.SkipTranscodeConfig{AudioCodecs: []string{"aac"}}, webm, processing.Size{858, 480}, false},
		{"wrong mime type", config.SkipTranscodeConfig{MimeTypes: []string{"video/mp4"}}, webm, processing.Size{858, 480}, false},
		{"wrong container", config.SkipTranscodeConfig{ContainerFormats: []string{"mov"}}, webm, processing.Size{858, 480}, false},
		{"nil metadata", cfg, func() *Metadata { return nil }, processing.Size{858, 480}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SkipTranscode(tt.cfg, tt.md(), tt.size); got != tt.expect {
				t.Errorf("SkipTranscode() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestBestResolution(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"480p", "360p", "720p"}, "720p"},
		{[]string{"1080p", "144p"}, "1080p"},
		{[]string{"webm", "480p"}, "webm"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := BestResolution(tt.in); got != tt.want {
			t.Errorf("BestResolution(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVP8Settings(t *testing.T) {
	if got := vp8CRF(10); got != 3 {
		t.Errorf("vp8CRF(10) = %d, want 3", got)
	}
	if got := vp8CRF(-4); got != 63 {
		t.Errorf("vp8CRF(-4) = %d, want 63", got)
	}
	if got := vp8Threads(3); got != 3 {
		t.Errorf("vp8Threads(3) = %d, want 3", got)
	}
	if got := vp8Threads(0); got < 1 {
		t.Errorf("vp8Threads(0) = %d, want >= 1", got)
	}

	args := transcodeArgs("in.mp4", "out.webm", TranscodeOptions{Width: 858, Height: 480, VP8Quality: 8, VP8Threads: 2})
	if !containsSeq(args, "-an") {
		t.Errorf("transcodeArgs() without audio = %v, want -an", args)
	}
	args = transcodeArgs("in.mp4", "out.webm", TranscodeOptions{Width: 858, Height: 480, VorbisQuality: 0.3, HasAudio: true})
	if !containsSeq(args, "-c:a", "libvorbis", "-q:a", "3.0") {
		t.Errorf("transcodeArgs() with audio = %v", args)
	}
}

func containsSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j := range seq {
			if args[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestNewManager(t *testing.T) {
	cfg := config.Default().Media
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if !m.Accepts("clip.MKV") || m.Accepts("photo.nef") || m.Accepts("notes.txt") {
		t.Error("Accepts() does not match the video extensions")
	}

	entry := &media.Entry{State: media.StateProcessed}
	var names []string
	for _, s := range m.Eligible(entry) {
		names = append(names, s.Name())
	}
	if len(names) != 2 || names[0] != "resize" || names[1] != "transcode" {
		t.Errorf("Eligible(processed) = %v, want [resize transcode]", names)
	}

	cfg.Video.AvailableResolutions = []string{"480p", "4k"}
	if _, err := NewManager(cfg, nil); err == nil {
		t.Error("NewManager() with unknown resolution error = nil")
	}
}

func TestInitialStep_Plan(t *testing.T) {
	cfg := config.Default().Media
	m, err := NewManager(cfg, &Tools{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	step, err := m.GetProcessor("initial", &media.Entry{State: media.StateUnprocessed})
	if err != nil {
		t.Fatalf("GetProcessor() error = %v", err)
	}
	fs := step.(processing.FanOutStep)

	plan, err := fs.Plan(context.Background(), nil, processing.Params{"vp8_quality": 5})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	want := []struct {
		name     string
		priority int
		main     bool
	}{
		{"webm_480p", 4, true},
		{"webm_360p", 3, false},
		{"webm_720p", 2, false},
	}
	if len(plan.Tasks) != len(want) {
		t.Fatalf("Plan() tasks = %d, want %d", len(plan.Tasks), len(want))
	}
	for i, w := range want {
		got := plan.Tasks[i]
		if got.Name != w.name || got.Priority != w.priority || got.Main != w.main || got.Index != i {
			t.Errorf("task %d = %+v, want %+v", i, got, w)
		}
		if got.Params["vp8_quality"] != 5 {
			t.Errorf("task %d params = %v", i, got.Params)
		}
	}
}

func TestInitialStep_MissingTools(t *testing.T) {
	m, err := NewManager(config.Default().Media, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	step, _ := m.GetProcessor("initial", &media.Entry{State: media.StateUnprocessed})

	_, err = step.(processing.FanOutStep).Plan(context.Background(), nil, nil)
	var pe *processing.Error
	if !errors.As(err, &pe) || pe.Classifier != processing.ClassMissingComponents {
		t.Errorf("Plan() error = %v, want missing_components", err)
	}
}

// newVideoContext stages a generated clip as the queued upload of a new
// entry.
func newVideoContext(t *testing.T, tools *Tools) *processing.Context {
	t.Helper()
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "clip.mp4")
	out, err := exec.Command(tools.FFmpegPath,
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=10",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=1",
		"-shortest", "-pix_fmt", "yuv420p", "-y", src).CombinedOutput()
	if err != nil {
		t.Skipf("cannot generate test clip: %v: %s", err, out)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}

	queue := storage.NewMemoryStorage()
	queued := storage.Path{"queue", "clip.mp4"}
	if err := queue.Upload(ctx, queued, bytes.NewReader(data), "video/mp4", int64(len(data))); err != nil {
		t.Fatal(err)
	}

	repo := media.NewMemoryRepository()
	entry := media.NewEntry("alice", "clip", MediaType, queued)
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatal(err)
	}

	wbm, err := processing.NewWorkbenchManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	wb, err := wbm.Create()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = wb.Destroy() })

	return &processing.Context{
		Entry:     entry,
		Workbench: wb,
		Public:    storage.NewMemoryStorage(),
		Queue:     queue,
		Repo:      repo,
	}
}

func TestInitialStep_Process(t *testing.T) {
	tools := skipIfNoFFmpeg(t)
	ctx := context.Background()

	cfg := config.Default().Media
	cfg.Video.AvailableResolutions = []string{"480p", "144p"}
	cfg.Video.VP8Threads = 1
	m, err := NewManager(cfg, tools)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	pc := newVideoContext(t, tools)
	step, err := m.GetProcessor("initial", pc.Entry)
	if err != nil {
		t.Fatalf("GetProcessor() error = %v", err)
	}
	if err := step.Process(ctx, pc, processing.Params{}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, err := pc.Repo.Get(ctx, pc.Entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, slot := range []string{"webm_480p", "webm_144p", "thumb"} {
		if !got.HasFile(slot) {
			t.Errorf("entry missing slot %q: %v", slot, got.MediaFiles)
		}
	}
	if got.HasFile("original") {
		t.Error("original kept although renditions exist")
	}
	if got.QueuedMediaFile != nil {
		t.Errorf("queued file = %v, want cleared", got.QueuedMediaFile)
	}
	if _, ok := got.MediaData["orig_metadata"]; !ok {
		t.Error("orig_metadata not recorded")
	}
	if got.GetFileMetadata("webm_480p")[processing.SchemaKey] == nil {
		t.Error("webm_480p metadata missing schema stamp")
	}
}

func TestTranscodeStep_SkipsUpToDateRendition(t *testing.T) {
	tools := skipIfNoFFmpeg(t)
	ctx := context.Background()

	m, err := NewManager(config.Default().Media, tools)
	if err != nil {
		t.Fatal(err)
	}
	pc := newVideoContext(t, tools)
	pc.Entry.State = media.StateProcessed
	step, err := m.GetProcessor("transcode", pc.Entry)
	if err != nil {
		t.Fatalf("GetProcessor() error = %v", err)
	}

	params := processing.Params{"vp8_threads": 1}
	if err := step.Process(ctx, pc, params); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	first := pc.Entry.MediaFiles["webm_video"]
	if len(first) == 0 {
		t.Fatal("webm_video not stored")
	}

	// Same settings a second time leave the rendition alone.
	if err := pc.Public.Delete(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := step.Process(ctx, pc, params); err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if ok, _ := pc.Public.Exists(ctx, first); ok {
		t.Error("rendition was regenerated with unchanged settings")
	}
}
