package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryStorage is an in-memory implementation of Storage for tests and
// single-process runs. It is safe for concurrent use.
type MemoryStorage struct {
	files   map[string]memoryFile
	baseURL string
	mu      sync.RWMutex
}

type memoryFile struct {
	data        []byte
	contentType string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		files: make(map[string]memoryFile),
	}
}

// WithBaseURL makes URLFor answer with baseURL/key instead of ErrNoWebServing.
func (s *MemoryStorage) WithBaseURL(baseURL string) *MemoryStorage {
	s.baseURL = baseURL
	return s
}

var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) Upload(ctx context.Context, path Path, reader io.Reader, contentType string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(path) == 0 || path.Key() == "" {
		return ErrInvalidKey
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[path.Key()] = memoryFile{
		data:        data,
		contentType: contentType,
	}

	return nil
}

func (s *MemoryStorage) Download(ctx context.Context, path Path) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[path.Key()]
	if !exists {
		return nil, ErrNotFound
	}

	return io.NopCloser(bytes.NewReader(file.data)), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, path Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.files, path.Key())
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, path Path) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.files[path.Key()]
	return exists, nil
}

func (s *MemoryStorage) URLFor(ctx context.Context, path Path) (string, error) {
	if s.baseURL == "" {
		return "", ErrNoWebServing
	}
	return joinURL(s.baseURL, path), nil
}

func (s *MemoryStorage) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// GetData returns the raw data for a key (test helper).
func (s *MemoryStorage) GetData(path Path) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[path.Key()]
	if !exists {
		return nil, false
	}
	return file.data, true
}

// GetContentType returns the content type for a key (test helper).
func (s *MemoryStorage) GetContentType(path Path) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[path.Key()]
	if !exists {
		return "", false
	}
	return file.contentType, true
}

// Keys lists stored keys in sorted order (test helper).
func (s *MemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of stored files (test helper).
func (s *MemoryStorage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
