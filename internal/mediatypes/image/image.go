// Package image produces thumbnails and medium sized copies of uploaded
// pictures.
package image

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const MediaType = "image"

const memoSchema = 1

var AcceptedExtensions = []string{"jpg", "jpeg", "png", "gif", "tiff", "tif", "webp"}

var acceptableFiles = []string{"original"}

// NewManager builds the image manager.
func NewManager(cfg config.MediaConfig) *processing.Manager {
	c := &common{
		thumb:   processing.Size{cfg.Thumb.MaxWidth, cfg.Thumb.MaxHeight},
		medium:  processing.Size{cfg.Medium.MaxWidth, cfg.Medium.MaxHeight},
		quality: cfg.Image.Quality,
	}
	qMin, qMax := processing.Range(1, 100)

	m := processing.NewManager(MediaType, processing.WithExtensions(AcceptedExtensions...))
	m.AddProcessor(&InitialStep{
		StepInfo: processing.StepInfo{
			Action:  "initial",
			Summary: "Initial processing",
			States:  processing.InitialStates,
			Specs: []processing.ParamSpec{
				{Name: "size", Type: processing.ParamSize, Help: "max_width max_height of the medium image"},
				{Name: "thumb_size", Type: processing.ParamSize, Help: "max_width max_height"},
				{Name: "quality", Type: processing.ParamInt, Help: "JPEG quality 1..100", Min: qMin, Max: qMax},
			},
		},
		common: c,
	})
	m.AddProcessor(&ResizeStep{
		StepInfo: processing.StepInfo{
			Action:  "resize",
			Summary: "Resize image",
			States:  processing.ReprocessStates,
			Specs: []processing.ParamSpec{
				{Name: "size", Type: processing.ParamSize, Help: "max_width max_height"},
				{Name: "quality", Type: processing.ParamInt, Help: "JPEG quality 1..100", Min: qMin, Max: qMax},
				{Name: "file", Type: processing.ParamString, Choices: []string{"thumb", "medium"}, Default: "thumb", Positional: true},
			},
		},
		common: c,
	})
	return m
}

type common struct {
	thumb   processing.Size
	medium  processing.Size
	quality int
}

func (c *common) open(ctx context.Context, pc *processing.Context) (string, image.Image, error) {
	src, err := pc.ProcessFile(ctx, acceptableFiles...)
	if err != nil {
		return "", nil, err
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", nil, processing.BadMedia("could not decode image").Wrap(err)
	}
	return src, img, nil
}

// outputExt keeps lossless sources lossless.
func outputExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png", ".gif":
		return ".png"
	default:
		return ".jpg"
	}
}

func sizeMemo(size processing.Size, quality int) map[string]any {
	return map[string]any{"width": size.Width(), "height": size.Height(), "quality": quality}
}

// upToDate reports whether slot was already produced with these settings.
func upToDate(pc *processing.Context, slot string, size processing.Size, quality int) bool {
	if !processing.ShouldSkip(pc.Entry.GetFileMetadata(slot), sizeMemo(size, quality), memoSchema) {
		return false
	}
	pc.Log().Info("image up to date, skipping", "slot", slot)
	return true
}

// resize stores img fitted into size under slot, unless the slot was
// already produced with the same settings.
func (c *common) resize(ctx context.Context, pc *processing.Context, img image.Image, slot, suffix string, size processing.Size, quality int) error {
	if upToDate(pc, slot, size, quality) {
		return nil
	}
	memo := sizeMemo(size, quality)

	nb := pc.NameBuilder()
	name := nb.Fill("{basename}." + suffix + outputExt(nb.Ext()))
	dst := pc.Workbench.Path(name)

	out := imaging.Fit(img, size.Width(), size.Height(), imaging.Lanczos)
	if err := imaging.Save(out, dst, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("save %s: %w", slot, err)
	}

	if err := pc.StorePublic(ctx, slot, dst, pc.CreatePubFilepath(name)); err != nil {
		return err
	}
	return pc.SetFileMetadata(ctx, slot, processing.Memo(memo, memoSchema))
}

func exceeds(img image.Image, size processing.Size) bool {
	b := img.Bounds()
	return b.Dx() > size.Width() || b.Dy() > size.Height()
}

// InitialStep makes the thumbnail, a medium copy for large images, and
// keeps the upload as the original.
type InitialStep struct {
	processing.StepInfo
	*common
}

func (s *InitialStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	src, img, err := s.open(ctx, pc)
	if err != nil {
		return err
	}
	quality := params.Int("quality", s.quality)

	if err := s.resize(ctx, pc, img, "thumb", "thumbnail", params.Size("thumb_size", s.thumb), quality); err != nil {
		return err
	}
	medium := params.Size("size", s.medium)
	if exceeds(img, medium) {
		if err := s.resize(ctx, pc, img, "medium", "medium", medium, quality); err != nil {
			return err
		}
	}

	if err := pc.CopyOriginal(ctx, src); err != nil {
		return err
	}
	return pc.DeleteQueueFile(ctx)
}

// ResizeStep regenerates the thumbnail or the medium copy.
type ResizeStep struct {
	processing.StepInfo
	*common
}

func (s *ResizeStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	quality := params.Int("quality", s.quality)
	slot, suffix, size := "thumb", "thumbnail", params.Size("size", s.thumb)
	if params.String("file", "thumb") == "medium" {
		slot, suffix, size = "medium", "medium", params.Size("size", s.medium)
	}
	// Nothing to read when the slot is current.
	if upToDate(pc, slot, size, quality) {
		return nil
	}

	_, img, err := s.open(ctx, pc)
	if err != nil {
		return err
	}
	return s.resize(ctx, pc, img, slot, suffix, size, quality)
}
