package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	ErrFFmpegNotFound  = errors.New("video: ffmpeg not found")
	ErrFFprobeNotFound = errors.New("video: ffprobe not found")
)

// Stream is one audio or video stream as reported by ffprobe.
type Stream struct {
	Index      int               `json:"index"`
	CodecType  string            `json:"codec_type"`
	CodecName  string            `json:"codec_name"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	RFrameRate string            `json:"r_frame_rate,omitempty"`
	BitRate    string            `json:"bit_rate,omitempty"`
	Channels   int               `json:"channels,omitempty"`
	SampleRate string            `json:"sample_rate,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`

	Disposition map[string]int `json:"disposition,omitempty"`
}

type ffprobeOutput struct {
	Streams []Stream `json:"streams"`
	Format  struct {
		Filename string            `json:"filename"`
		Duration string            `json:"duration"`
		Size     string            `json:"size"`
		BitRate  string            `json:"bit_rate"`
		Name     string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// Metadata is what the pipeline needs to know about a source video.
type Metadata struct {
	MimeType   string
	Containers []string
	Duration   float64
	Bitrate    int64
	FileSize   int64
	Tags       map[string]string
	Video      []Stream
	Audio      []Stream
}

func (m *Metadata) Width() int {
	if len(m.Video) == 0 {
		return 0
	}
	return m.Video[0].Width
}

func (m *Metadata) Height() int {
	if len(m.Video) == 0 {
		return 0
	}
	return m.Video[0].Height
}

func (m *Metadata) HasAudio() bool { return len(m.Audio) > 0 }

// Stored is the orig_metadata record kept in the entry's media data.
func (m *Metadata) Stored() map[string]any {
	out := map[string]any{
		"common": map[string]any{
			"duration":   m.Duration,
			"tags":       m.Tags,
			"containers": m.Containers,
			"mimetype":   m.MimeType,
		},
	}
	if len(m.Video) > 0 {
		var vs []map[string]any
		for _, s := range m.Video {
			vs = append(vs, map[string]any{
				"width":     s.Width,
				"height":    s.Height,
				"bitrate":   parseInt(s.BitRate),
				"codec":     s.CodecName,
				"videorate": s.RFrameRate,
				"tags":      s.Tags,
			})
		}
		out["video"] = vs
	}
	if len(m.Audio) > 0 {
		var as []map[string]any
		for _, s := range m.Audio {
			as = append(as, map[string]any{
				"channels":    s.Channels,
				"bitrate":     parseInt(s.BitRate),
				"codec":       s.CodecName,
				"sample_rate": parseInt(s.SampleRate),
				"tags":        s.Tags,
			})
		}
		out["audio"] = as
	}
	return out
}

// Tools runs the ffmpeg binaries.
type Tools struct {
	FFmpegPath  string
	FFprobePath string
}

// LookupTools resolves both binaries on PATH.
func LookupTools(ffmpegPath, ffprobePath string) (*Tools, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	ff, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	fp, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFprobeNotFound, err)
	}
	return &Tools{FFmpegPath: ff, FFprobePath: fp}, nil
}

// Probe runs ffprobe on path.
func (t *Tools) Probe(ctx context.Context, path string) (*Metadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	output, err := exec.CommandContext(ctx, t.FFprobePath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output, path)
}

func parseProbe(output []byte, path string) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	md := &Metadata{Tags: probe.Format.Tags}
	if probe.Format.Duration != "" {
		md.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}
	md.FileSize = parseInt(probe.Format.Size)
	md.Bitrate = parseInt(probe.Format.BitRate)
	if probe.Format.Name != "" {
		md.Containers = strings.Split(probe.Format.Name, ",")
	}
	md.MimeType = mimeType(path, md.Containers)

	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			// Embedded cover art.
			if s.Disposition["attached_pic"] == 1 {
				continue
			}
			md.Video = append(md.Video, s)
		case "audio":
			md.Audio = append(md.Audio, s)
		}
	}
	return md, nil
}

func mimeType(path string, containers []string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); strings.HasPrefix(t, "video/") {
		return t
	}
	for _, c := range containers {
		switch c {
		case "webm":
			return "video/webm"
		case "matroska":
			return "video/x-matroska"
		case "mp4", "mov":
			return "video/mp4"
		case "ogg":
			return "video/ogg"
		case "avi":
			return "video/x-msvideo"
		}
	}
	return ""
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
