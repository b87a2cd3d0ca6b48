package metrics

import (
	"context"
	"io"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/storage"
)

// InstrumentedStorage records operation counts and latencies for any
// storage backend. URLFor and HealthCheck pass through untouched.
type InstrumentedStorage struct {
	storage.Storage
}

func NewInstrumentedStorage(s storage.Storage) *InstrumentedStorage {
	return &InstrumentedStorage{Storage: s}
}

func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOperationsTotal.WithLabelValues(op, status).Inc()
	StorageOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStorage) Upload(ctx context.Context, path storage.Path, reader io.Reader, contentType string, size int64) error {
	start := time.Now()
	err := s.Storage.Upload(ctx, path, reader, contentType, size)
	observe("upload", start, err)
	if err == nil && size > 0 {
		StorageBytesTotal.WithLabelValues("upload").Add(float64(size))
	}
	return err
}

func (s *InstrumentedStorage) Download(ctx context.Context, path storage.Path) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := s.Storage.Download(ctx, path)
	observe("download", start, err)
	if err != nil {
		return nil, err
	}
	return &instrumentedReadCloser{ReadCloser: reader}, nil
}

func (s *InstrumentedStorage) Delete(ctx context.Context, path storage.Path) error {
	start := time.Now()
	err := s.Storage.Delete(ctx, path)
	observe("delete", start, err)
	return err
}

func (s *InstrumentedStorage) Exists(ctx context.Context, path storage.Path) (bool, error) {
	start := time.Now()
	exists, err := s.Storage.Exists(ctx, path)
	observe("exists", start, err)
	return exists, err
}

type instrumentedReadCloser struct {
	io.ReadCloser
	bytesRead int64
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	StorageBytesTotal.WithLabelValues("download").Add(float64(r.bytesRead))
	return r.ReadCloser.Close()
}
