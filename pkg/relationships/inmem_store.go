// FILE: relationships/inmem_store.go

package relationships

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a thread-safe, in-memory implementation of the Store interface.
type InMemoryStore struct {
	sync.RWMutex
	flags map[Category]map[string]bool
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flags: make(map[Category]map[string]bool),
	}
}

// SetFlag records a flag value.
func (s *InMemoryStore) SetFlag(ctx context.Context, category Category, id string, value bool) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}
	if err := ValidateIdentifier(id); err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	ns, ok := s.flags[category]
	if !ok {
		ns = make(map[string]bool)
		s.flags[category] = ns
	}
	ns[id] = value
	return nil
}

// SetFlags records value for all ids under one lock.
func (s *InMemoryStore) SetFlags(ctx context.Context, category Category, ids []string, value bool) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}
	if err := ValidateIdentifiers(ids); err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	ns, ok := s.flags[category]
	if !ok {
		ns = make(map[string]bool)
		s.flags[category] = ns
	}
	for _, id := range ids {
		ns[id] = value
	}
	return nil
}

// GetFlag returns a flag value, false when absent.
func (s *InMemoryStore) GetFlag(ctx context.Context, category Category, id string) (bool, error) {
	if err := ValidateCategory(category); err != nil {
		return false, err
	}
	s.RLock()
	defer s.RUnlock()
	return s.flags[category][id], nil
}

// ListSet returns the identifiers set to true.
func (s *InMemoryStore) ListSet(ctx context.Context, category Category) ([]string, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	s.RLock()
	defer s.RUnlock()
	ids := make([]string, 0, len(s.flags[category]))
	for id, v := range s.flags[category] {
		if v {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// HasAnyEntry reports whether the category holds any entry, true or false.
func (s *InMemoryStore) HasAnyEntry(ctx context.Context, category Category) (bool, error) {
	if err := ValidateCategory(category); err != nil {
		return false, err
	}
	s.RLock()
	defer s.RUnlock()
	return len(s.flags[category]) > 0, nil
}
