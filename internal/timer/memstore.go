package timer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okello/airlift/internal/model"
)

// MemStore is an in-memory Store used by tests and local development.
// It mirrors the PGStore semantics, including schedule collapse and
// re-arming of fired entries.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*model.TimerEntry // keyed by external id
}

// NewMemStore creates an empty in-memory timer store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*model.TimerEntry)}
}

func (m *MemStore) Schedule(ctx context.Context, entry model.TimerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[entry.ExternalID]; ok {
		if existing.State == model.TimerScheduled {
			return false, nil
		}
		existing.Kind = entry.Kind
		existing.Payload = entry.Payload
		existing.FireAt = entry.FireAt
		existing.State = model.TimerScheduled
		existing.FiredAt = nil
		return true, nil
	}

	e := entry
	e.ID = uuid.NewString()
	e.State = model.TimerScheduled
	e.CreatedAt = time.Now()
	m.entries[e.ExternalID] = &e
	return true, nil
}

func (m *MemStore) Cancel(ctx context.Context, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[externalID]
	if !ok || e.State != model.TimerScheduled {
		return false, nil
	}
	e.State = model.TimerCancelled
	return true, nil
}

func (m *MemStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.TimerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*model.TimerEntry
	for _, e := range m.entries {
		if e.State == model.TimerScheduled && !e.FireAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]model.TimerEntry, 0, len(due))
	for _, e := range due {
		firedAt := now
		e.State = model.TimerFired
		e.FiredAt = &firedAt
		out = append(out, *e)
	}
	return out, nil
}

func (m *MemStore) CountDue(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.State == model.TimerScheduled && !e.FireAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) Requeue(ctx context.Context, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[externalID]
	if !ok || e.State != model.TimerFired {
		return false, nil
	}
	e.State = model.TimerScheduled
	e.FiredAt = nil
	e.FireAt = time.Now()
	return true, nil
}

// Get returns a copy of the entry for external id, if present.
func (m *MemStore) Get(externalID string) (model.TimerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[externalID]
	if !ok {
		return model.TimerEntry{}, false
	}
	return *e, true
}
