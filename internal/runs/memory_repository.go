package runs

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// InMemoryRepository keeps runs in process memory. Used by the CLI and tests.
type InMemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{runs: make(map[string]*Run)}
}

// Get returns a copy of the run.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return clone(run), nil
}

// List returns runs newest first.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Run
	for _, run := range r.runs {
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		out = append(out, clone(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Create stores a copy of run.
func (r *InMemoryRepository) Create(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[run.ID] = clone(run)
	return nil
}

// Update replaces a stored run.
func (r *InMemoryRepository) Update(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	r.runs[run.ID] = clone(run)
	return nil
}

func clone(run *Run) *Run {
	cpy := *run
	cpy.Skipped = maps.Clone(run.Skipped)
	if run.Request.Landmarks != nil {
		n := *run.Request.Landmarks
		cpy.Request.Landmarks = &n
	}
	return &cpy
}

var _ Repository = (*InMemoryRepository)(nil)
