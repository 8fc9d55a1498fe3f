package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. Records are copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte), now: time.Now}
}

// Get returns a copy of the record
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	raw, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", id, err)
	}
	return &rec, nil
}

// Put stores a copy of rec
func (m *MemoryStore) Put(_ context.Context, rec *Record) error {
	if rec == nil || rec.ProjectID == "" {
		return errors.New("project id is required")
	}
	rec.UpdatedAt = m.now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", rec.ProjectID, err)
	}
	m.mu.Lock()
	m.records[rec.ProjectID] = raw
	m.mu.Unlock()
	return nil
}

// Delete removes a record
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// List returns summaries, most recently updated first
func (m *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		rec, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, Summary{ProjectID: rec.ProjectID, ProjectName: rec.ProjectName, Changes: len(rec.ChangeLog), UpdatedAt: rec.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }
