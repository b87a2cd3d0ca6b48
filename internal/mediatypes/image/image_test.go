package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/storage"
)

// createTestImage creates a gradient so resampling has something to do.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(255 * x / width), G: uint8(255 * y / height), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, createTestImage(width, height), &jpeg.Options{Quality: 85}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(width, height)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newImageContext(t *testing.T, filename string, data []byte) *processing.Context {
	t.Helper()
	ctx := context.Background()

	queue := storage.NewMemoryStorage()
	queued := storage.Path{"queue", filename}
	if err := queue.Upload(ctx, queued, bytes.NewReader(data), "", int64(len(data))); err != nil {
		t.Fatal(err)
	}

	repo := media.NewMemoryRepository()
	entry := media.NewEntry("alice", "picture", MediaType, queued)
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

func storedDimensions(t *testing.T, pc *processing.Context, slot string) (int, int) {
	t.Helper()
	path, ok := pc.Entry.MediaFiles[slot]
	if !ok {
		t.Fatalf("slot %q not stored: %v", slot, pc.Entry.MediaFiles)
	}
	rc, err := pc.Public.Download(context.Background(), path)
	if err != nil {
		t.Fatalf("Download(%v) error = %v", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stored %s is not an image: %v", slot, err)
	}
	return cfg.Width, cfg.Height
}

func testConfig() config.MediaConfig {
	cfg := config.Default().Media
	cfg.Thumb = config.Size{MaxWidth: 180, MaxHeight: 180}
	cfg.Medium = config.Size{MaxWidth: 640, MaxHeight: 640}
	return cfg
}

func TestInitialStep_Process(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		data       func(*testing.T) []byte
		wantMedium bool
		wantThumbW int
		wantThumbH int
		wantExt    string
	}{
		{
			name:       "large landscape jpeg",
			filename:   "photo.jpg",
			data:       func(t *testing.T) []byte { return encodeJPEG(t, 1600, 800) },
			wantMedium: true,
			wantThumbW: 180,
			wantThumbH: 90,
			wantExt:    ".jpg",
		},
		{
			name:       "small png",
			filename:   "icon.PNG",
			data:       func(t *testing.T) []byte { return encodePNG(t, 200, 400) },
			wantMedium: false,
			wantThumbW: 90,
			wantThumbH: 180,
			wantExt:    ".png",
		},
	}

	m := NewManager(testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			pc := newImageContext(t, tt.filename, tt.data(t))

			step, err := m.GetProcessor("initial", pc.Entry)
			if err != nil {
				t.Fatalf("GetProcessor() error = %v", err)
			}
			if err := step.Process(ctx, pc, processing.Params{}); err != nil {
				t.Fatalf("Process() error = %v", err)
			}

			w, h := storedDimensions(t, pc, "thumb")
			if w != tt.wantThumbW || h != tt.wantThumbH {
				t.Errorf("thumb = %dx%d, want %dx%d", w, h, tt.wantThumbW, tt.wantThumbH)
			}
			if got := pc.Entry.MediaFiles["thumb"].Base(); !bytes.HasSuffix([]byte(got), []byte(tt.wantExt)) {
				t.Errorf("thumb name = %q, want suffix %q", got, tt.wantExt)
			}
			if got := pc.Entry.HasFile("medium"); got != tt.wantMedium {
				t.Errorf("HasFile(medium) = %v, want %v", got, tt.wantMedium)
			}
			if !pc.Entry.HasFile("original") {
				t.Error("original not stored")
			}
			if pc.Entry.QueuedMediaFile != nil {
				t.Errorf("queued file = %v, want cleared", pc.Entry.QueuedMediaFile)
			}
			if pc.Entry.GetFileMetadata("thumb")[processing.SchemaKey] == nil {
				t.Error("thumb metadata missing schema stamp")
			}
		})
	}
}

func TestInitialStep_BadMedia(t *testing.T) {
	m := NewManager(testConfig())
	pc := newImageContext(t, "broken.jpg", []byte("this is not an image"))

	step, err := m.GetProcessor("initial", pc.Entry)
	if err != nil {
		t.Fatal(err)
	}
	err = step.Process(context.Background(), pc, processing.Params{})

	var perr *processing.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Process() error = %v, want *processing.Error", err)
	}
	if perr.Classifier != processing.ClassBadMedia {
		t.Errorf("classifier = %q, want %q", perr.Classifier, processing.ClassBadMedia)
	}
}

func TestResizeStep(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testConfig())
	pc := newImageContext(t, "photo.jpg", encodeJPEG(t, 1200, 900))

	initial, err := m.GetProcessor("initial", pc.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if err := initial.Process(ctx, pc, processing.Params{}); err != nil {
		t.Fatalf("initial Process() error = %v", err)
	}
	pc.Entry.State = media.StateProcessed

	resize, err := m.GetProcessor("resize", pc.Entry)
	if err != nil {
		t.Fatalf("GetProcessor(resize) error = %v", err)
	}
	params, err := processing.Normalize(resize.Params(), map[string]any{"size": []any{100, 100}, "file": "medium"})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	// The resize step reads the stored original now that the upload is gone.
	if err := resize.Process(ctx, pc, params); err != nil {
		t.Fatalf("resize Process() error = %v", err)
	}
	w, h := storedDimensions(t, pc, "medium")
	if w != 100 || h != 75 {
		t.Errorf("medium = %dx%d, want 100x75", w, h)
	}
}

func TestResizeStep_SkipsUpToDate(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testConfig())
	pc := newImageContext(t, "photo.jpg", encodeJPEG(t, 400, 400))

	step, err := m.GetProcessor("initial", pc.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if err := step.Process(ctx, pc, processing.Params{}); err != nil {
		t.Fatal(err)
	}
	thumb := pc.Entry.MediaFiles["thumb"]
	if err := pc.Public.Delete(ctx, thumb); err != nil {
		t.Fatal(err)
	}

	pc.Entry.State = media.StateProcessed
	resize, err := m.GetProcessor("resize", pc.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if err := resize.Process(ctx, pc, processing.Params{}); err != nil {
		t.Fatalf("resize Process() error = %v", err)
	}
	if ok, _ := pc.Public.Exists(ctx, thumb); ok {
		t.Error("thumb regenerated although settings did not change")
	}
}

func TestResizeStep_UpToDateDoesNotReadSource(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testConfig())
	pc := newImageContext(t, "photo.jpg", encodeJPEG(t, 400, 400))

	step, err := m.GetProcessor("initial", pc.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if err := step.Process(ctx, pc, processing.Params{}); err != nil {
		t.Fatal(err)
	}

	// Without its source only an up to date resize can succeed.
	if err := pc.Public.Delete(ctx, pc.Entry.MediaFiles["original"]); err != nil {
		t.Fatal(err)
	}
	reprocess := processing.Context{
		Entry:     pc.Entry.Clone(),
		Workbench: pc.Workbench,
		Public:    pc.Public,
		Queue:     pc.Queue,
		Repo:      pc.Repo,
	}
	reprocess.Entry.State = media.StateProcessed
	resize, err := m.GetProcessor("resize", reprocess.Entry)
	if err != nil {
		t.Fatal(err)
	}

	if err := resize.Process(ctx, &reprocess, processing.Params{}); err != nil {
		t.Errorf("Process() unchanged settings error = %v, want nil", err)
	}
	err = resize.Process(ctx, &reprocess, processing.Params{"size": processing.Size{50, 50}})
	var pe *processing.Error
	if !errors.As(err, &pe) || pe.Classifier != processing.ClassBadMedia {
		t.Errorf("Process() changed settings error = %v, want bad_media", err)
	}
}

func TestOutputExt(t *testing.T) {
	tests := map[string]string{
		".jpg":  ".jpg",
		".jpeg": ".jpg",
		".png":  ".png",
		".GIF":  ".png",
		".webp": ".jpg",
		".tiff": ".jpg",
	}
	for in, want := range tests {
		if got := outputExt(in); got != want {
			t.Errorf("outputExt(%q) = %q, want %q", in, got, want)
		}
	}
}
