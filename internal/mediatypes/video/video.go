// Package video processes uploaded videos into web-playable webm
// renditions, a thumbnail and the stream metadata of the source.
package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const MediaType = "video"

// memoSchema versions the parameter sets recorded next to renditions.
const memoSchema = 1

// AcceptedResolutions maps resolution names to their bounding boxes.
var AcceptedResolutions = map[string]processing.Size{
	"144p":  {256, 144},
	"240p":  {352, 240},
	"360p":  {480, 360},
	"480p":  {858, 480},
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
	"webm":  {640, 640},
}

var (
	AcceptedExtensions = []string{"mp4", "mov", "webm", "avi", "3gp", "3gpp", "mkv", "ogv", "m4v"}
	ExcludedExtensions = []string{"nef", "svg"}
)

// acceptableFiles are the slots a step may read from once the upload
// is gone, best first.
var acceptableFiles = []string{
	"original", "best_quality",
	"webm_144p", "webm_360p", "webm_480p", "webm_720p", "webm_1080p", "webm_video",
}

// Toolchain probes, transcodes and captures frames. *Tools runs the
// ffmpeg binaries.
type Toolchain interface {
	Probe(ctx context.Context, path string) (*Metadata, error)
	Transcode(ctx context.Context, src, dst string, o TranscodeOptions) error
	CaptureThumb(ctx context.Context, src, dst string, width int, duration float64) error
}

// NewManager builds the video manager. tools may be nil, in which case
// every step fails with missing_components.
func NewManager(cfg config.MediaConfig, tools Toolchain) (*processing.Manager, error) {
	if t, ok := tools.(*Tools); ok && t == nil {
		tools = nil
	}
	if _, ok := AcceptedResolutions[cfg.Video.DefaultResolution]; !ok {
		return nil, fmt.Errorf("video: unknown default resolution %q", cfg.Video.DefaultResolution)
	}
	for _, r := range cfg.Video.AvailableResolutions {
		if _, ok := AcceptedResolutions[r]; !ok {
			return nil, fmt.Errorf("video: unknown resolution %q", r)
		}
	}

	c := &common{
		cfg:    cfg.Video,
		thumb:  processing.Size{cfg.Thumb.MaxWidth, cfg.Thumb.MaxHeight},
		medium: processing.Size{cfg.Medium.MaxWidth, cfg.Medium.MaxHeight},
		tools:  tools,
	}

	m := processing.NewManager(MediaType,
		processing.WithExtensions(AcceptedExtensions...),
		processing.WithExcluded(ExcludedExtensions...),
	)
	m.AddProcessor(&InitialStep{
		StepInfo: processing.StepInfo{
			Action:  "initial",
			Summary: "Initial processing",
			States:  processing.InitialStates,
			Specs:   append(transcodeSpecs(), thumbSpec()),
		},
		common: c,
	})
	m.AddProcessor(&ResizeStep{
		StepInfo: processing.StepInfo{
			Action:  "resize",
			Summary: "Resize thumbnail",
			States:  processing.ReprocessStates,
			Specs: []processing.ParamSpec{
				thumbSpec(),
				{Name: "file", Type: processing.ParamString, Choices: []string{"thumb"}, Default: "thumb", Positional: true},
			},
		},
		common: c,
	})
	m.AddProcessor(&TranscodeStep{
		StepInfo: processing.StepInfo{
			Action:  "transcode",
			Summary: "Re-transcode video",
			States:  processing.ReprocessStates,
			Specs:   transcodeSpecs(),
		},
		common: c,
	})
	return m, nil
}

func transcodeSpecs() []processing.ParamSpec {
	qMin, qMax := processing.Range(0, 10)
	tMin, _ := processing.Range(0, 0)
	vMin, vMax := processing.Range(-0.1, 1)
	return []processing.ParamSpec{
		{Name: "medium_size", Type: processing.ParamSize, Help: "max_width max_height"},
		{Name: "vp8_quality", Type: processing.ParamInt, Help: "Range 0..10", Min: qMin, Max: qMax},
		{Name: "vp8_threads", Type: processing.ParamInt, Help: "0 means number_of_CPUs - 1", Min: tMin},
		{Name: "vorbis_quality", Type: processing.ParamFloat, Help: "Range -0.1..1", Min: vMin, Max: vMax},
	}
}

func thumbSpec() processing.ParamSpec {
	return processing.ParamSpec{Name: "thumb_size", Type: processing.ParamSize, Help: "max_width max_height"}
}

// common holds what every video step shares.
type common struct {
	cfg    config.VideoConfig
	thumb  processing.Size
	medium processing.Size
	tools  Toolchain
}

func (c *common) requireTools() error {
	if c.tools == nil {
		return processing.MissingComponents("ffmpeg and ffprobe are required to process video")
	}
	return nil
}

// stage runs fn in its own span and records how long it took.
func stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "video."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.RecordJobStage(MediaType, name, time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// probe localizes the file to work on and reads its streams.
func (c *common) probe(ctx context.Context, pc *processing.Context) (string, *Metadata, error) {
	if err := c.requireTools(); err != nil {
		return "", nil, err
	}
	src, err := pc.ProcessFile(ctx, acceptableFiles...)
	if err != nil {
		return "", nil, err
	}
	var md *Metadata
	err = stage(ctx, "probe", func(ctx context.Context) error {
		var perr error
		md, perr = c.tools.Probe(ctx, src)
		return perr
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, processing.BadMedia("could not read video").Wrap(err)
	}
	if len(md.Video) == 0 {
		return "", nil, processing.MissingStreams("no video streams found in this video")
	}
	return src, md, nil
}

func (c *common) transcode(ctx context.Context, pc *processing.Context, src string, md *Metadata, slot, part string, size processing.Size, params processing.Params) error {
	log := pc.Log().With("slot", slot)
	quality := params.Int("vp8_quality", c.cfg.VP8Quality)
	threads := params.Int("vp8_threads", c.cfg.VP8Threads)
	vorbis := params.Float("vorbis_quality", c.cfg.VorbisQuality)

	memo := map[string]any{
		"medium_size":    size,
		"vp8_quality":    quality,
		"vp8_threads":    threads,
		"vorbis_quality": vorbis,
	}
	if processing.ShouldSkip(pc.Entry.GetFileMetadata(slot), memo, memoSchema) {
		log.Info("rendition up to date, skipping")
		return nil
	}

	if SkipTranscode(c.cfg.SkipTranscode, md, size) {
		log.Info("source is web ready, skipping transcode")
		// The source beats any rendition of it.
		if pc.Entry.HasFile("original") && pc.Entry.HasFile(slot) {
			return pc.DeleteSlot(ctx, slot)
		}
		return nil
	}

	dst := pc.Workbench.Path(part)
	err := stage(ctx, "transcode", func(ctx context.Context) error {
		tracing.AddSpanAttributes(ctx, attribute.String("slot", slot), attribute.String("size", size.String()))
		return c.tools.Transcode(ctx, src, dst, TranscodeOptions{
			Width:         size.Width(),
			Height:        size.Height(),
			VP8Quality:    quality,
			VP8Threads:    threads,
			VorbisQuality: vorbis,
			HasAudio:      md.HasAudio(),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		details := map[string]any{"slot": slot, "size": size.String()}
		var ee *ExecError
		if errors.As(err, &ee) {
			details["output"] = ee.Output
		}
		return processing.Transcoding(err, details)
	}

	err = stage(ctx, "store", func(ctx context.Context) error {
		return pc.StorePublic(ctx, slot, dst, pc.CreatePubFilepath(part))
	})
	if err != nil {
		return err
	}
	log.Info("stored rendition", "size", size.String())
	return pc.SetFileMetadata(ctx, slot, processing.Memo(memo, memoSchema))
}

// generateThumb captures a frame. A frame that cannot be captured leaves
// the entry without a thumbnail rather than failing it.
func (c *common) generateThumb(ctx context.Context, pc *processing.Context, src string, md *Metadata, size processing.Size) error {
	memo := map[string]any{"thumb_size": size}
	if processing.ShouldSkip(pc.Entry.GetFileMetadata("thumb"), memo, memoSchema) {
		return nil
	}

	name := pc.NameBuilder().Fill("{basename}.thumbnail.jpg")
	dst := pc.Workbench.Path(name)
	err := stage(ctx, "thumbnail", func(ctx context.Context) error {
		return c.tools.CaptureThumb(ctx, src, dst, size.Width(), md.Duration)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pc.Log().Warn("could not capture thumbnail", "error", err)
		return nil
	}

	if err := pc.StorePublic(ctx, "thumb", dst, pc.CreatePubFilepath(name)); err != nil {
		return err
	}
	return pc.SetFileMetadata(ctx, "thumb", processing.Memo(memo, memoSchema))
}

func (c *common) copyOriginal(ctx context.Context, pc *processing.Context, src string) error {
	transcoded := false
	for _, r := range c.cfg.AvailableResolutions {
		if pc.Entry.HasFile("webm_" + r) {
			transcoded = true
			break
		}
	}
	if transcoded && !c.cfg.KeepOriginal {
		return nil
	}
	return pc.CopyOriginal(ctx, src)
}

// keepBest points best_quality at the largest rendition when there is no
// original to fall back to.
func (c *common) keepBest(ctx context.Context, pc *processing.Context) error {
	if pc.Entry.HasFile("best_quality") || pc.Entry.HasFile("original") {
		return nil
	}
	best := BestResolution(c.cfg.AvailableResolutions)
	if best == "" || !pc.Entry.HasFile("webm_"+best) {
		return nil
	}
	return pc.LinkSlot(ctx, "best_quality", pc.Entry.MediaFiles["webm_"+best])
}

// BestResolution returns the resolution whose box contains every box
// before it, scanning in order.
func BestResolution(resolutions []string) string {
	var (
		best string
		dim  processing.Size
	)
	for _, r := range resolutions {
		d, ok := AcceptedResolutions[r]
		if !ok {
			continue
		}
		if d.Width() >= dim.Width() && d.Height() >= dim.Height() {
			best, dim = r, d
		}
	}
	return best
}

func (c *common) storeOrigMetadata(ctx context.Context, pc *processing.Context, md *Metadata) error {
	return pc.SetMediaData(ctx, "orig_metadata", md.Stored())
}

// InitialStep transcodes a new upload into every available resolution.
// The default resolution is the main task: it also records the source
// metadata and the thumbnail, and its outcome decides the entry's state.
type InitialStep struct {
	processing.StepInfo
	*common
}

var _ processing.FanOutStep = (*InitialStep)(nil)

func (s *InitialStep) Plan(ctx context.Context, pc *processing.Context, params processing.Params) (*fanout.Plan, error) {
	if err := s.requireTools(); err != nil {
		return nil, err
	}
	def := s.cfg.DefaultResolution
	priority := len(s.cfg.AvailableResolutions) + 1

	plan := &fanout.Plan{}
	plan.Tasks = append(plan.Tasks, fanout.Task{
		Index: 0, Name: "webm_" + def, Priority: priority, Main: true,
		Params: taskParams(params, def),
	})
	for _, r := range s.cfg.AvailableResolutions {
		if r == def {
			continue
		}
		priority--
		plan.Tasks = append(plan.Tasks, fanout.Task{
			Index: len(plan.Tasks), Name: "webm_" + r, Priority: priority,
			Params: taskParams(params, r),
		})
	}
	return plan, nil
}

func taskParams(params processing.Params, resolution string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["resolution"] = resolution
	return out
}

func (s *InitialStep) RunTask(ctx context.Context, pc *processing.Context, task fanout.Task) error {
	raw := make(map[string]any, len(task.Params))
	for k, v := range task.Params {
		raw[k] = v
	}
	resolution, _ := raw["resolution"].(string)
	delete(raw, "resolution")
	size, ok := AcceptedResolutions[resolution]
	if !ok {
		return processing.InvalidParams("unknown resolution %q", resolution)
	}
	params, err := processing.Normalize(s.Params(), raw)
	if err != nil {
		return err
	}

	src, md, err := s.probe(ctx, pc)
	if err != nil {
		return err
	}
	if task.Main {
		if err := s.storeOrigMetadata(ctx, pc, md); err != nil {
			return err
		}
	}

	part := pc.NameBuilder().Fill("{basename}." + resolution + ".webm")
	if err := s.transcode(ctx, pc, src, md, "webm_"+resolution, part, size, params); err != nil {
		return err
	}

	if task.Main {
		return s.generateThumb(ctx, pc, src, md, params.Size("thumb_size", s.thumb))
	}
	return nil
}

// Continue keeps the original or the best rendition and drops the
// upload. When the main task failed the upload stays so the entry can
// be processed again.
func (s *InitialStep) Continue(ctx context.Context, pc *processing.Context, results []fanout.Result) error {
	main, ok := fanout.MainResult(results)
	if !ok {
		return fmt.Errorf("video: group finished without a main result")
	}
	if perr := processing.ErrorFromResult(main); perr != nil {
		return perr
	}
	for _, r := range results {
		if !r.OK {
			pc.Log().Warn("rendition failed", "task", r.Name, "classifier", r.Classifier, "message", r.Message)
		}
	}

	src, err := pc.ProcessFile(ctx, acceptableFiles...)
	if err != nil {
		return err
	}
	if err := s.copyOriginal(ctx, pc, src); err != nil {
		return err
	}
	if err := s.keepBest(ctx, pc); err != nil {
		return err
	}
	return pc.DeleteQueueFile(ctx)
}

// Process runs the whole group inline.
func (s *InitialStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	plan, err := s.Plan(ctx, pc, params)
	if err != nil {
		return err
	}
	results := make([]fanout.Result, 0, plan.Total())
	for _, t := range plan.Tasks {
		results = append(results, processing.TaskResult(t, s.RunTask(ctx, pc, t)))
	}
	return s.Continue(ctx, pc, results)
}

// ResizeStep regenerates the thumbnail of a processed video.
type ResizeStep struct {
	processing.StepInfo
	*common
}

func (s *ResizeStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	src, md, err := s.probe(ctx, pc)
	if err != nil {
		return err
	}
	return s.generateThumb(ctx, pc, src, md, params.Size("thumb_size", s.thumb))
}

// TranscodeStep re-renders a processed video at the medium size.
type TranscodeStep struct {
	processing.StepInfo
	*common
}

func (s *TranscodeStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	src, md, err := s.probe(ctx, pc)
	if err != nil {
		return err
	}
	part := pc.NameBuilder().Fill("{basename}.medium.webm")
	size := params.Size("medium_size", s.medium)
	return s.transcode(ctx, pc, src, md, "webm_video", part, size, params)
}
