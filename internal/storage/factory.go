package storage

import (
	"context"
	"fmt"

	"github.com/cobbzilla/mediagoblin/internal/config"
)

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	sc := &Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
		Region:    cfg.Region,
		BaseURL:   cfg.BaseURL,
	}

	switch cfg.Backend {
	case "memory":
		return NewMemoryStorage().WithBaseURL(cfg.BaseURL), nil
	case "file":
		return NewFileStorage(cfg.BaseDir, cfg.BaseURL)
	case "minio":
		s, err := NewMinIOStorage(sc)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		return NewS3Storage(ctx, sc)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
