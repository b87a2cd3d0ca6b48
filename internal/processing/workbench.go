package processing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cobbzilla/mediagoblin/internal/storage"
)

// WorkbenchManager hands out private temporary directories.
type WorkbenchManager struct {
	baseDir string
}

func NewWorkbenchManager(baseDir string) (*WorkbenchManager, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workbench base dir: %w", err)
	}
	return &WorkbenchManager{baseDir: baseDir}, nil
}

func (m *WorkbenchManager) Create() (*Workbench, error) {
	dir, err := os.MkdirTemp(m.baseDir, "workbench-")
	if err != nil {
		return nil, fmt.Errorf("create workbench: %w", err)
	}
	return &Workbench{dir: dir}, nil
}

// Workbench is a directory owned by a single task execution.
type Workbench struct {
	dir  string
	once sync.Once
	err  error
}

func (w *Workbench) Dir() string {
	return w.dir
}

// Path joins name onto the workbench directory.
func (w *Workbench) Path(name ...string) string {
	return filepath.Join(append([]string{w.dir}, name...)...)
}

// Subdir creates and returns a directory inside the workbench.
func (w *Workbench) Subdir(name string) (string, error) {
	dir := w.Path(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workbench subdir: %w", err)
	}
	return dir, nil
}

// Localize copies path from store into the workbench as filename and
// returns the local path.
func (w *Workbench) Localize(ctx context.Context, store storage.Storage, path storage.Path, filename string) (string, error) {
	if filename == "" {
		filename = storage.SecureFilename(path.Base())
	}
	local := w.Path(filename)

	rc, err := store.Download(ctx, path)
	if err != nil {
		return "", fmt.Errorf("localize %s: %w", path.Key(), err)
	}
	defer rc.Close()

	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("localize %s: %w", path.Key(), err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", fmt.Errorf("localize %s: %w", path.Key(), err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("localize %s: %w", path.Key(), err)
	}
	return local, nil
}

// Destroy removes the workbench and everything in it. Calling it again
// returns the first result.
func (w *Workbench) Destroy() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.dir)
	})
	return w.err
}
