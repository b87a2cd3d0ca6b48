// Package mediatypes assembles the processing registry from the enabled
// media types.
package mediatypes

import (
	"fmt"
	"log/slog"

	"github.com/cobbzilla/mediagoblin/internal/config"
	"github.com/cobbzilla/mediagoblin/internal/mediatypes/ascii"
	imagetype "github.com/cobbzilla/mediagoblin/internal/mediatypes/image"
	"github.com/cobbzilla/mediagoblin/internal/mediatypes/video"
	"github.com/cobbzilla/mediagoblin/internal/processing"
)

// NewRegistry registers a manager for every enabled media type. Video is
// registered without tools when ffmpeg is missing so its entries fail
// with missing_components instead of no_media_manager.
func NewRegistry(cfg config.MediaConfig, log *slog.Logger) (*processing.Registry, error) {
	reg := processing.NewRegistry()

	if cfg.Video.Enabled {
		var tools video.Toolchain
		found, err := video.LookupTools(cfg.Video.FFmpegPath, cfg.Video.FFprobePath)
		if err != nil {
			log.Warn("video processing unavailable (ffmpeg not found)", "error", err)
		} else {
			tools = found
		}
		m, err := video.NewManager(cfg, tools)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	if cfg.Image.Enabled {
		if err := reg.Register(imagetype.NewManager(cfg)); err != nil {
			return nil, err
		}
	}
	if cfg.Ascii.Enabled {
		if err := reg.Register(ascii.NewManager(cfg)); err != nil {
			return nil, err
		}
	}

	if len(reg.Types()) == 0 {
		return nil, fmt.Errorf("mediatypes: no media type enabled")
	}
	log.Info("media types registered", "types", reg.Types())
	return reg, nil
}
