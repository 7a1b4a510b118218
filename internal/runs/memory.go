package runs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps runs in process memory for deployments without a
// database.
type MemoryRepository struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]*Run)}
}

func (r *MemoryRepository) Create(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, limit int) ([]*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ClaimNext(_ context.Context, now time.Time) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *Run
	for _, run := range r.runs {
		if run.Status != StatusPending {
			continue
		}
		if next == nil || run.CreatedAt.Before(next.CreatedAt) {
			next = run
		}
	}
	if next == nil {
		return nil, nil
	}

	started := now
	next.Status = StatusRunning
	next.StartedAt = &started
	cp := *next
	return &cp, nil
}

func (r *MemoryRepository) Finish(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}
