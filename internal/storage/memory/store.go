// Package memory implements an in-process record store, used by tests and
// single-shot runs that do not need persistence across processes.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

// Store keeps title records per scope in process memory.
type Store struct {
	mu     sync.RWMutex
	scopes map[string][]ingest.TitledRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{scopes: make(map[string][]ingest.TitledRecord)}
}

// LoadPriorRecords returns a copy of the records saved under scope. A scope
// that was never written yields an empty slice, not an error.
func (s *Store) LoadPriorRecords(_ context.Context, scope string) ([]ingest.TitledRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.scopes[scope]
	out := make([]ingest.TitledRecord, len(records))
	copy(out, records)
	return out, nil
}

// SaveRecords replaces the records stored under scope.
func (s *Store) SaveRecords(_ context.Context, scope string, records []ingest.TitledRecord) error {
	stored := make([]ingest.TitledRecord, len(records))
	copy(stored, records)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scope] = stored
	return nil
}
