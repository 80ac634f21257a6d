// Package history keeps a record of past runs and their cell outcomes.
package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Cell is the stored outcome of one cell.
type Cell struct {
	Cell        string `json:"cell"`
	Variant     string `json:"variant"`
	Triplet     string `json:"triplet"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Summary     string `json:"summary,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// Run is one stored orchestration run.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Cells      []Cell    `json:"cells"`
}

// Store records runs.
type Store interface {
	Record(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// NullStore forgets everything.
type NullStore struct{}

func (NullStore) Record(context.Context, Run) error          { return nil }
func (NullStore) Recent(context.Context, int) ([]Run, error) { return nil, nil }

// MemoryStore keeps runs in memory.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Run)}
}

// Record is idempotent per run ID.
func (m *MemoryStore) Record(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		m.runs[run.ID] = run
	}
	return nil
}

// Recent returns runs newest first.
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
