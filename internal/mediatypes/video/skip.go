package video

import (
	"slices"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/processing"
)

// SkipTranscode reports whether the source already satisfies the
// configured web-ready criteria for a rendition of size.
func SkipTranscode(cfg config.SkipTranscodeConfig, md *Metadata, size processing.Size) bool {
	if md == nil {
		return false
	}

	if len(cfg.MimeTypes) > 0 && md.MimeType != "" && !slices.Contains(cfg.MimeTypes, md.MimeType) {
		return false
	}

	if len(cfg.ContainerFormats) > 0 && len(md.Containers) > 0 {
		if !slices.ContainsFunc(md.Containers, func(c string) bool {
			return slices.Contains(cfg.ContainerFormats, c)
		}) {
			return false
		}
	}

	if len(cfg.VideoCodecs) > 0 {
		for _, s := range md.Video {
			if !slices.Contains(cfg.VideoCodecs, s.CodecName) {
				return false
			}
		}
	}

	if len(cfg.AudioCodecs) > 0 {
		for _, s := range md.Audio {
			if !slices.Contains(cfg.AudioCodecs, s.CodecName) {
				return false
			}
		}
	}

	if cfg.DimensionsMatch {
		for _, s := range md.Video {
			if s.Height > size.Height() || s.Width > size.Width() {
				return false
			}
		}
	}
	return true
}
