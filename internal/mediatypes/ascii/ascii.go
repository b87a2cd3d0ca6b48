// Package ascii handles ASCII art uploads: a portable copy of the text
// and a rendered thumbnail.
package ascii

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/disintegration/imaging"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

const MediaType = "ascii"

const memoSchema = 1

// minConfidence is how sure the detector must be before a charset other
// than UTF-8 is used.
const minConfidence = 90

var AcceptedExtensions = []string{"txt", "asc", "nfo"}

var acceptableFiles = []string{"original", "unicode"}

// NewManager builds the ascii manager.
func NewManager(cfg config.MediaConfig) *processing.Manager {
	c := &common{
		thumb: processing.Size{cfg.Thumb.MaxWidth, cfg.Thumb.MaxHeight},
		font:  cfg.Ascii.ThumbnailFont,
	}

	m := processing.NewManager(MediaType, processing.WithExtensions(AcceptedExtensions...))
	m.AddProcessor(&InitialStep{
		StepInfo: processing.StepInfo{
			Action:  "initial",
			Summary: "Initial processing",
			States:  processing.InitialStates,
			Specs: []processing.ParamSpec{
				{Name: "thumb_size", Type: processing.ParamSize, Help: "max_width max_height"},
				{Name: "font", Type: processing.ParamString, Help: "the thumbnail font"},
			},
		},
		common: c,
	})
	m.AddProcessor(&ResizeStep{
		StepInfo: processing.StepInfo{
			Action:  "resize",
			Summary: "Resize thumbnail",
			States:  processing.ReprocessStates,
			Specs: []processing.ParamSpec{
				{Name: "thumb_size", Type: processing.ParamSize, Help: "max_width max_height"},
				{Name: "font", Type: processing.ParamString, Help: "the thumbnail font"},
				{Name: "file", Type: processing.ParamString, Choices: []string{"thumb"}, Default: "thumb", Positional: true},
			},
		},
		common: c,
	})
	return m
}

type common struct {
	thumb processing.Size
	font  string
}

// DetectCharset names the charset data should be read as. Anything the
// detector is not sure about is treated as UTF-8.
func DetectCharset(data []byte) string {
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res.Confidence < minConfidence {
		return "utf-8"
	}
	return res.Charset
}

// Decode converts data from charset to a UTF-8 string.
func Decode(data []byte, charset string) (string, error) {
	if strings.EqualFold(charset, "utf-8") {
		if !utf8.Valid(data) {
			return "", fmt.Errorf("text is not valid utf-8")
		}
		return string(data), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", charset, err)
	}
	return string(out), nil
}

// Portable returns s as pure ASCII with every other character written
// as a decimal character reference.
func Portable(s string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			buf.WriteByte(byte(r))
			continue
		}
		fmt.Fprintf(&buf, "&#%d;", r)
	}
	return buf.Bytes()
}

func (c *common) readText(ctx context.Context, pc *processing.Context) (string, error) {
	src, err := pc.ProcessFile(ctx, acceptableFiles...)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}
	charset := DetectCharset(data)
	pc.Log().Info("charset detected", "charset", charset)

	text, err := Decode(data, charset)
	if err != nil && !strings.EqualFold(charset, "utf-8") {
		pc.Log().Warn("falling back to utf-8", "charset", charset, "error", err)
		text, err = Decode(data, "utf-8")
	}
	if err != nil {
		return "", processing.BadMedia("could not decode text").Wrap(err)
	}
	return text, nil
}

func (c *common) storeUnicode(ctx context.Context, pc *processing.Context, text string) error {
	const name = "ascii-portable.txt"
	dst := pc.Workbench.Path(name)
	if err := os.WriteFile(dst, Portable(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return pc.StorePublic(ctx, "unicode", dst, pc.CreatePubFilepath(name))
}

func (c *common) generateThumb(ctx context.Context, pc *processing.Context, text string, params processing.Params) error {
	font := params.String("font", c.font)
	size := params.Size("thumb_size", c.thumb)

	memo := map[string]any{"font": font, "width": size.Width(), "height": size.Height()}
	if processing.ShouldSkip(pc.Entry.GetFileMetadata("thumb"), memo, memoSchema) {
		pc.Log().Info("thumbnail up to date, skipping")
		return nil
	}

	img, err := Render(text, font)
	if err != nil {
		return err
	}
	thumb := imaging.Fit(img, size.Width(), size.Height(), imaging.Lanczos)

	name := pc.NameBuilder().Fill("{basename}.thumbnail.png")
	dst := pc.Workbench.Path(name)
	if err := imaging.Save(thumb, dst); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	if err := pc.StorePublic(ctx, "thumb", dst, pc.CreatePubFilepath(name)); err != nil {
		return err
	}
	return pc.SetFileMetadata(ctx, "thumb", processing.Memo(memo, memoSchema))
}

// InitialStep stores the portable text and thumbnail, then keeps the
// upload as the original.
type InitialStep struct {
	processing.StepInfo
	*common
}

func (s *InitialStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	text, err := s.readText(ctx, pc)
	if err != nil {
		return err
	}
	if err := s.storeUnicode(ctx, pc, text); err != nil {
		return err
	}
	if err := s.generateThumb(ctx, pc, text, params); err != nil {
		return err
	}
	src, err := pc.ProcessFile(ctx, acceptableFiles...)
	if err != nil {
		return err
	}
	if err := pc.CopyOriginal(ctx, src); err != nil {
		return err
	}
	return pc.DeleteQueueFile(ctx)
}

// ResizeStep regenerates the thumbnail.
type ResizeStep struct {
	processing.StepInfo
	*common
}

func (s *ResizeStep) Process(ctx context.Context, pc *processing.Context, params processing.Params) error {
	text, err := s.readText(ctx, pc)
	if err != nil {
		return err
	}
	return s.generateThumb(ctx, pc, text, params)
}
