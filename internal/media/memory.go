package media

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/google/uuid"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps entries in process memory. Used by tests and the
// single-process mode of mgctl.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[uuid.UUID]*Entry)}
}

func (r *MemoryRepository) Create(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *MemoryRepository) DeleteInState(ctx context.Context, id uuid.UUID, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.State != state {
		return ErrStateConflict
	}
	delete(r.entries, id)
	return nil
}

func (r *MemoryRepository) update(id uuid.UUID, fn func(e *Entry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	return fn(e)
}

func (r *MemoryRepository) BeginProcessing(ctx context.Context, id uuid.UUID, from State, at time.Time) error {
	if !CanTransition(from, StateProcessing) {
		return ErrInvalidTransition
	}
	return r.update(id, func(e *Entry) error {
		if e.State != from {
			return ErrStateConflict
		}
		t := at
		e.PriorState = from
		e.ProcessingStartedAt = &t
		e.State = StateProcessing
		return nil
	})
}

func (r *MemoryRepository) Finish(ctx context.Context, id uuid.UUID, to State, failure *Failure) error {
	if !CanTransition(StateProcessing, to) {
		return ErrInvalidTransition
	}
	return r.update(id, func(e *Entry) error {
		if e.State != StateProcessing {
			return ErrStateConflict
		}
		e.State = to
		e.ProcessingStartedAt = nil
		if failure == nil {
			e.FailError = ""
			e.FailMetadata = nil
		} else {
			e.FailError = failure.Classifier
			e.FailMetadata = failure.Metadata
		}
		return nil
	})
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id uuid.UUID, failure Failure) error {
	return r.update(id, func(e *Entry) error {
		if e.State == StateProcessed || e.State == StateProcessing {
			return ErrStateConflict
		}
		e.State = StateFailed
		e.ProcessingStartedAt = nil
		e.FailError = failure.Classifier
		e.FailMetadata = failure.Metadata
		return nil
	})
}

func (r *MemoryRepository) SetMediaFile(ctx context.Context, id uuid.UUID, slot string, path storage.Path) error {
	return r.update(id, func(e *Entry) error {
		if e.MediaFiles == nil {
			e.MediaFiles = make(map[string]storage.Path)
		}
		e.MediaFiles[slot] = append(storage.Path(nil), path...)
		return nil
	})
}

func (r *MemoryRepository) DeleteMediaFile(ctx context.Context, id uuid.UUID, slot string) error {
	return r.update(id, func(e *Entry) error {
		delete(e.MediaFiles, slot)
		delete(e.FileMetadata, slot)
		return nil
	})
}

func (r *MemoryRepository) SetFileMetadata(ctx context.Context, id uuid.UUID, slot string, md FileMetadata) error {
	return r.update(id, func(e *Entry) error {
		if e.FileMetadata == nil {
			e.FileMetadata = make(map[string]FileMetadata)
		}
		cp := make(FileMetadata, len(md))
		for k, v := range md {
			cp[k] = v
		}
		e.FileMetadata[slot] = cp
		return nil
	})
}

func (r *MemoryRepository) SetMediaData(ctx context.Context, id uuid.UUID, key string, value any) error {
	return r.update(id, func(e *Entry) error {
		if e.MediaData == nil {
			e.MediaData = make(map[string]any)
		}
		e.MediaData[key] = value
		return nil
	})
}

func (r *MemoryRepository) ClearQueuedMediaFile(ctx context.Context, id uuid.UUID) error {
	return r.update(id, func(e *Entry) error {
		e.QueuedMediaFile = nil
		return nil
	})
}

func (r *MemoryRepository) ListByStateBefore(ctx context.Context, state State, before time.Time, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, e := range r.entries {
		if e.State != state {
			continue
		}
		ref := e.CreatedAt
		if state == StateProcessing && e.ProcessingStartedAt != nil {
			ref = *e.ProcessingStartedAt
		}
		if ref.Before(before) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
