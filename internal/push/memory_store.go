package push

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of StateStore.
// It keeps the encoded blob so tests exercise the codec like the durable
// stores do.
type MemoryStore struct {
	mu    sync.RWMutex
	blob  []byte
	saves int

	failSave error
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored record.
func (s *MemoryStore) Load(_ context.Context) (PersistedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return decodeStored(s.blob)
}

// Save replaces the stored record.
func (s *MemoryStore) Save(_ context.Context, rec PersistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave != nil {
		return s.failSave
	}

	blob, err := MarshalRecord(rec)
	if err != nil {
		return err
	}
	s.blob = blob
	s.saves++
	return nil
}

// FailSaves makes subsequent saves return err. A nil err restores normal
// behavior.
func (s *MemoryStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
