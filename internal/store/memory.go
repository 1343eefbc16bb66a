package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. It does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, task string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[task]
	if !ok {
		return nil, nil
	}
	return copyRecord(*r), nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Task] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, task string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, task)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]RecordInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecordInfo, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
