package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryKnowledgeStore is an in-memory implementation of KnowledgeStore.
// Suitable for development, testing and single-process swarms.
type MemoryKnowledgeStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
	closed  bool
}

// NewMemoryKnowledgeStore creates a new in-memory knowledge store
func NewMemoryKnowledgeStore() *MemoryKnowledgeStore {
	return &MemoryKnowledgeStore{entries: make(map[string]map[string]Entry)}
}

// Close closes the store
func (s *MemoryKnowledgeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryKnowledgeStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put stores a record
func (s *MemoryKnowledgeStore) Put(ctx context.Context, namespace, key string, value any, kind string) error {
	e, err := newEntry(namespace, key, value, kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	ns, ok := s.entries[namespace]
	if !ok {
		ns = make(map[string]Entry)
		s.entries[namespace] = ns
	}
	ns[key] = *e
	return nil
}

// Get retrieves a record
func (s *MemoryKnowledgeStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	e, ok := s.entries[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// Search returns matching records ordered by key
func (s *MemoryKnowledgeStore) Search(ctx context.Context, namespace, pattern string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []Entry
	for key, e := range s.entries[namespace] {
		if matchKey(pattern, key) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
