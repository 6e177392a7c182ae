package record

import (
	"context"
	"sync"
)

// MemStore is the in-process Store. Reads never block each other and always
// see either none or all of a transition; the catalog is append-only.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
	catalog []string
}

func NewMemStore() *MemStore {
	return &MemStore{records: map[string]Record{}}
}

func (s *MemStore) CreateRecord(ctx context.Context, rec Record) error {
	if err := Validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Identifier]; exists {
		return ErrDuplicateIdentifier
	}
	s.records[rec.Identifier] = rec
	s.catalog = append(s.catalog, rec.Identifier)
	return nil
}

func (s *MemStore) ResolveRecord(ctx context.Context, identifier string, result uint32) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[identifier]
	if !exists {
		return Record{}, ErrNotFound
	}
	if rec.Resolved {
		return Record{}, ErrAlreadyResolved
	}
	rec.Result = result
	rec.Resolved = true
	s.records[identifier] = rec
	return rec, nil
}

func (s *MemStore) GetRecord(ctx context.Context, identifier string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[identifier]
	if !exists {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemStore) ListIdentifiers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.catalog))
	copy(out, s.catalog)
	return out, nil
}
