package fanout

import (
	"context"
	"sync"
)

var _ Barrier = (*MemoryBarrier)(nil)

type memoryGroup struct {
	results map[int]Result
	fired   bool
}

// MemoryBarrier is an in-process Barrier.
type MemoryBarrier struct {
	mu     sync.Mutex
	groups map[string]*memoryGroup
}

func NewMemoryBarrier() *MemoryBarrier {
	return &MemoryBarrier{groups: make(map[string]*memoryGroup)}
}

func (b *MemoryBarrier) Arrive(ctx context.Context, groupID string, total int, r Result) ([]Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[groupID]
	if !ok {
		g = &memoryGroup{results: make(map[int]Result, total)}
		b.groups[groupID] = g
	}
	if g.fired {
		return nil, false, ErrGroupComplete
	}
	// A redelivered task overwrites its own slot and never counts twice.
	g.results[r.Index] = r
	if len(g.results) < total {
		return nil, false, nil
	}

	g.fired = true
	out := make([]Result, 0, len(g.results))
	for _, res := range g.results {
		out = append(out, res)
	}
	sortResults(out)
	return out, true, nil
}

// Forget drops a fired group.
func (b *MemoryBarrier) Forget(groupID string) {
	b.mu.Lock()
	delete(b.groups, groupID)
	b.mu.Unlock()
}
