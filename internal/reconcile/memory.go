package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/maltedev/catalog-sync/internal/models"
)

// MemoryStore is a Store kept in process memory. It backs dry runs that
// reconcile against the previous snapshot file.
type MemoryStore struct {
	mu      sync.Mutex
	rows    map[string]Row
	runs    map[string]string
	changes []models.Change
}

func NewMemoryStore(rows []Row) *MemoryStore {
	m := &MemoryStore{
		rows: make(map[string]Row, len(rows)),
		runs: make(map[string]string, len(rows)),
	}
	for _, r := range rows {
		m.rows[r.Name] = r
	}
	return m
}

func (m *MemoryStore) Rows(_ context.Context) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]Row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows, nil
}

func (m *MemoryStore) UpsertRows(_ context.Context, runID string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		m.rows[r.Name] = r
		m.runs[r.Name] = runID
	}
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for name := range m.rows {
		if m.runs[name] != runID {
			delete(m.rows, name)
			delete(m.runs, name)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MemoryStore) AppendChanges(_ context.Context, _ string, changes []models.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.changes = append(m.changes, changes...)
	return nil
}

func (m *MemoryStore) Changes() []models.Change {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Change, len(m.changes))
	copy(out, m.changes)
	return out
}

// UpdateEnrichment overwrites tags and description of existing rows.
func (m *MemoryStore) UpdateEnrichment(_ context.Context, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		cur, ok := m.rows[r.Name]
		if !ok {
			continue
		}
		cur.Tags = r.Tags
		cur.Description = r.Description
		m.rows[r.Name] = cur
	}
	return nil
}

// ListChanges returns up to limit changes, newest first.
func (m *MemoryStore) ListChanges(_ context.Context, limit int) ([]models.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Change, 0, len(m.changes))
	for i := len(m.changes) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.changes[i])
	}
	return out, nil
}
