package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Storage = (*FileStorage)(nil)

// FileStorage keeps files under a local base directory. Files are only
// web-servable when a base URL is configured.
type FileStorage struct {
	baseDir string
	baseURL string
}

func NewFileStorage(baseDir, baseURL string) (*FileStorage, error) {
	if !filepath.IsAbs(baseDir) {
		return nil, fmt.Errorf("storage: base dir must be absolute: %q", baseDir)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &FileStorage{baseDir: filepath.Clean(baseDir), baseURL: baseURL}, nil
}

func (s *FileStorage) resolve(path Path) (string, error) {
	clean, err := path.Clean()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{s.baseDir}, clean...)...), nil
}

// LocalPath exposes the on-disk location of path.
func (s *FileStorage) LocalPath(path Path) (string, error) {
	return s.resolve(path)
}

func (s *FileStorage) Upload(ctx context.Context, path Path, reader io.Reader, contentType string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path.Key(), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(local), ".upload-*")
	if err != nil {
		return fmt.Errorf("upload to %s: %w", path.Key(), err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("upload to %s: %w", path.Key(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("upload to %s: %w", path.Key(), err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("upload to %s: %w", path.Key(), err)
	}
	return nil
}

func (s *FileStorage) Download(ctx context.Context, path Path) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download %s: %w", path.Key(), err)
	}
	return f, nil
}

// Delete removes the file and then any parent directories left empty,
// stopping at the base directory.
func (s *FileStorage) Delete(ctx context.Context, path Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(local); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", path.Key(), err)
	}

	for dir := filepath.Dir(local); dir != s.baseDir && len(dir) > len(s.baseDir); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (s *FileStorage) Exists(ctx context.Context, path Path) (bool, error) {
	local, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(local)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("check exists %s: %w", path.Key(), err)
}

func (s *FileStorage) URLFor(ctx context.Context, path Path) (string, error) {
	if s.baseURL == "" {
		return "", ErrNoWebServing
	}
	clean, err := path.Clean()
	if err != nil {
		return "", err
	}
	return joinURL(s.baseURL, clean), nil
}

func (s *FileStorage) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("file storage health check: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file storage health check: %s is not a directory", s.baseDir)
	}
	return nil
}
