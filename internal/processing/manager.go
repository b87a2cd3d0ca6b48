package processing

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cobbzilla/mediagoblin/internal/media"
)

// Manager owns the ordered steps of one media type.
type Manager struct {
	mediaType  string
	steps      []Step
	extensions []string
	excluded   []string
}

type ManagerOption func(*Manager)

// WithExtensions sets the file extensions this media type accepts.
func WithExtensions(exts ...string) ManagerOption {
	return func(m *Manager) { m.extensions = normalizeExts(exts) }
}

// WithExcluded sets extensions this media type must refuse even when a
// broader check would accept them.
func WithExcluded(exts ...string) ManagerOption {
	return func(m *Manager) { m.excluded = normalizeExts(exts) }
}

func NewManager(mediaType string, opts ...ManagerOption) *Manager {
	m := &Manager{mediaType: mediaType}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) MediaType() string { return m.mediaType }

// AddProcessor appends step. Registration order is the order Eligible
// reports steps in.
func (m *Manager) AddProcessor(step Step) {
	m.steps = append(m.steps, step)
}

func (m *Manager) Steps() []Step {
	return slices.Clone(m.steps)
}

// GetProcessor returns the single step named action that accepts the
// entry's state.
func (m *Manager) GetProcessor(action string, entry *media.Entry) (Step, error) {
	var matches []Step
	for _, s := range m.steps {
		if s.Name() == action && s.Eligible(entry.State) {
			matches = append(matches, s)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}

	err := &NoProcessorFoundError{MediaType: m.mediaType, Action: action, State: entry.State}
	for _, s := range matches {
		err.Candidates = append(err.Candidates, fmt.Sprintf("%s (%T)", s.Name(), s))
	}
	return nil, err
}

// Eligible lists the steps that accept the entry's current state.
func (m *Manager) Eligible(entry *media.Entry) []Step {
	var out []Step
	for _, s := range m.steps {
		if s.Eligible(entry.State) {
			out = append(out, s)
		}
	}
	return out
}

// Accepts reports whether filename has one of the manager's extensions.
func (m *Manager) Accepts(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" || slices.Contains(m.excluded, ext) {
		return false
	}
	return slices.Contains(m.extensions, ext)
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		out = append(out, strings.ToLower(strings.TrimPrefix(e, ".")))
	}
	return out
}

// Registry maps media type tags to managers. It is filled at startup and
// read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

func (r *Registry) Register(m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.managers[m.mediaType]; exists {
		return fmt.Errorf("processing: media type %q already registered", m.mediaType)
	}
	r.managers[m.mediaType] = m
	r.order = append(r.order, m.mediaType)
	return nil
}

func (r *Registry) Get(mediaType string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[mediaType]
	if !ok {
		return nil, &ManagerNotFoundError{MediaType: mediaType}
	}
	return m, nil
}

// ForFilename returns the first registered manager accepting filename.
func (r *Registry) ForFilename(filename string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.order {
		if m := r.managers[t]; m.Accepts(filename) {
			return m, nil
		}
	}
	return nil, &ManagerNotFoundError{MediaType: strings.TrimPrefix(filepath.Ext(filename), ".")}
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.order)
	sort.Strings(out)
	return out
}
