package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// TranscodeOptions are the settings of one webm rendition.
type TranscodeOptions struct {
	Width         int
	Height        int
	VP8Quality    int
	VP8Threads    int
	VorbisQuality float64
	HasAudio      bool
}

// vp8CRF maps the 0..10 quality scale onto libvpx's crf range, 10 being
// the best.
func vp8CRF(quality int) int {
	quality = min(max(quality, 0), 10)
	return 63 - quality*6
}

// vp8Threads resolves 0 to one less than the number of CPUs.
func vp8Threads(n int) int {
	if n > 0 {
		return n
	}
	return max(runtime.NumCPU()-1, 1)
}

func transcodeArgs(src, dst string, o TranscodeOptions) []string {
	scale := fmt.Sprintf("scale=w='min(%d,iw)':h='min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
		o.Width, o.Height)
	args := []string{
		"-i", src,
		"-vf", scale,
		"-c:v", "libvpx",
		"-crf", strconv.Itoa(vp8CRF(o.VP8Quality)),
		"-b:v", "2M",
		"-threads", strconv.Itoa(vp8Threads(o.VP8Threads)),
	}
	if o.HasAudio {
		args = append(args, "-c:a", "libvorbis", "-q:a", strconv.FormatFloat(o.VorbisQuality*10, 'f', 1, 64))
	} else {
		args = append(args, "-an")
	}
	return append(args, "-f", "webm", "-y", dst)
}

// Transcode renders src into a VP8/Vorbis webm at dst, fitting the
// picture inside the requested box without upscaling.
func (t *Tools) Transcode(ctx context.Context, src, dst string, o TranscodeOptions) error {
	output, err := exec.CommandContext(ctx, t.FFmpegPath, transcodeArgs(src, dst, o)...).CombinedOutput()
	if err != nil {
		return &ExecError{Tool: "ffmpeg", Err: err, Output: tail(string(output), 2000)}
	}
	return nil
}

// CaptureThumb writes a JPEG frame of src scaled to width, taken a tenth
// of the way in.
func (t *Tools) CaptureThumb(ctx context.Context, src, dst string, width int, duration float64) error {
	args := []string{
		"-ss", fmt.Sprintf("%.2f", duration*0.1),
		"-i", src,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", width),
		"-q:v", "2",
		"-y",
		dst,
	}
	output, err := exec.CommandContext(ctx, t.FFmpegPath, args...).CombinedOutput()
	if err != nil {
		return &ExecError{Tool: "ffmpeg", Err: err, Output: tail(string(output), 2000)}
	}
	if _, err := os.Stat(dst); err != nil {
		return &ExecError{Tool: "ffmpeg", Err: err}
	}
	return nil
}

// ExecError is a failed run of one of the tools.
type ExecError struct {
	Tool   string
	Err    error
	Output string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
