package state

import (
	"context"
	"sync"

	"pitalert/internal/domain"
)

// MemoryStore keeps trigger records in process memory for single-instance mode.
// Params: in-memory record map guarded by mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	record   domain.TriggerRecord
	revision uint64
}

// NewMemoryStore creates in-memory trigger state store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// Get returns record payload and revision.
// Params: alert ID key.
// Returns: stored record, revision, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, alertID string) (domain.TriggerRecord, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.records[alertID]
	if !ok {
		return domain.TriggerRecord{}, 0, ErrNotFound
	}
	return entry.record, entry.revision, nil
}

// Create writes record only when the key does not exist yet.
// Params: alert ID key and record payload.
// Returns: revision 1 or ErrConflict when key exists.
func (s *MemoryStore) Create(_ context.Context, alertID string, record domain.TriggerRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[alertID]; ok {
		return 0, ErrConflict
	}
	s.records[alertID] = memoryRecord{record: record, revision: 1}
	return 1, nil
}

// Update replaces record payload using expected revision CAS.
// Params: alert ID key, expected revision, and replacement payload.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *MemoryStore) Update(_ context.Context, alertID string, expectedRevision uint64, record domain.TriggerRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[alertID]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.records[alertID] = memoryRecord{record: record, revision: rev}
	return rev, nil
}

// Delete removes record by alert ID.
// Params: alert ID key.
// Returns: nil (in-memory delete).
func (s *MemoryStore) Delete(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, alertID)
	return nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
