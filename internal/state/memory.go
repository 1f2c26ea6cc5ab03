package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryManager keeps runs and checkpoints in process memory. Used by tests
// and by deployments that do not need durability.
type MemoryManager struct {
	mu          sync.RWMutex
	runs        map[string]*RunRecord
	checkpoints map[string][]*Checkpoint
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		runs:        make(map[string]*RunRecord),
		checkpoints: make(map[string][]*Checkpoint),
	}
}

func (m *MemoryManager) SaveRun(_ context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	if existing, ok := m.runs[rec.RunID]; ok {
		cp.CreatedAt = existing.CreatedAt
		if len(cp.Input) == 0 {
			cp.Input = existing.Input
		}
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	m.runs[rec.RunID] = &cp
	return nil
}

func (m *MemoryManager) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[runID]
	if !ok {
		return nil, notFound("run", runID)
	}
	out := *rec
	return &out, nil
}

func (m *MemoryManager) Exists(_ context.Context, runID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.runs[runID]
	return ok, nil
}

func (m *MemoryManager) ListRuns(_ context.Context, filter RunFilter) ([]*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*RunRecord
	for _, rec := range m.runs {
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && rec.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryManager) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *cp
	stored.Sequence = int64(len(m.checkpoints[cp.RunID])) + 1
	stored.SizeBytes = len(cp.Payload)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.Payload = append([]byte(nil), cp.Payload...)
	m.checkpoints[cp.RunID] = append(m.checkpoints[cp.RunID], &stored)

	cp.Sequence = stored.Sequence
	cp.SizeBytes = stored.SizeBytes
	return nil
}

func (m *MemoryManager) LatestCheckpoint(_ context.Context, runID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps := m.checkpoints[runID]
	if len(cps) == 0 {
		return nil, notFound("checkpoint", runID)
	}
	out := *cps[len(cps)-1]
	out.Payload = append([]byte(nil), out.Payload...)
	return &out, nil
}

func (m *MemoryManager) History(_ context.Context, runID string) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps := m.checkpoints[runID]
	out := make([]*Checkpoint, len(cps))
	for i, cp := range cps {
		c := *cp
		c.Payload = append([]byte(nil), cp.Payload...)
		out[i] = &c
	}
	return out, nil
}

func (m *MemoryManager) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return notFound("run", runID)
	}
	delete(m.runs, runID)
	delete(m.checkpoints, runID)
	return nil
}

func (m *MemoryManager) Cleanup(_ context.Context, olderThan time.Duration, filter CleanupFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for id, rec := range m.runs {
		if !rec.Status.Terminal() || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		delete(m.runs, id)
		delete(m.checkpoints, id)
		removed++
	}
	return removed, nil
}

func (m *MemoryManager) Statistics(_ context.Context) (*Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Statistics{
		Runs:     int64(len(m.runs)),
		ByStatus: make(map[string]int64),
	}
	for _, rec := range m.runs {
		stats.ByStatus[string(rec.Status)]++
	}
	for _, cps := range m.checkpoints {
		stats.Checkpoints += int64(len(cps))
		for _, cp := range cps {
			stats.StateBytes += int64(cp.SizeBytes)
		}
	}
	return stats, nil
}

func (m *MemoryManager) Close() error { return nil }
