package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// MemoryStore is an in-memory identity store. It satisfies the full
// atomic read-modify-write contract and is the backend of choice for
// tests and throwaway environments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[interfaces.IdentityID]*interfaces.IdentityRecord
	byLogin map[string]interfaces.IdentityID
	byTag   map[interfaces.Tag]interfaces.IdentityID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[interfaces.IdentityID]*interfaces.IdentityRecord),
		byLogin: make(map[string]interfaces.IdentityID),
		byTag:   make(map[interfaces.Tag]interfaces.IdentityID),
	}
}

// Get retrieves a record by internal id.
func (s *MemoryStore) Get(ctx context.Context, id interfaces.IdentityID) (*interfaces.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return record.Clone(), nil
}

// GetByLogin retrieves a record by normalized login name.
func (s *MemoryStore) GetByLogin(ctx context.Context, login string) (*interfaces.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byLogin[interfaces.NormalizeUsername(login)]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return s.records[id].Clone(), nil
}

// GetByTag retrieves a record by derived tag.
func (s *MemoryStore) GetByTag(ctx context.Context, tag interfaces.Tag) (*interfaces.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTag[tag]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return s.records[id].Clone(), nil
}

// List returns copies of all records.
func (s *MemoryStore) List(ctx context.Context) ([]*interfaces.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*interfaces.IdentityRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.Clone())
	}
	return out, nil
}

// Create inserts a new record, enforcing login and tag uniqueness.
func (s *MemoryStore) Create(ctx context.Context, record *interfaces.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("%w: identity %s", interfaces.ErrAlreadyExists, record.ID)
	}
	if _, exists := s.byLogin[record.UsernameNormalized]; exists {
		return fmt.Errorf("%w: login %s", interfaces.ErrAlreadyExists, record.UsernameNormalized)
	}
	if _, exists := s.byTag[record.Tag]; exists {
		return fmt.Errorf("%w: tag %s", interfaces.ErrAlreadyExists, record.Tag)
	}

	clone := record.Clone()
	s.records[clone.ID] = clone
	s.byLogin[clone.UsernameNormalized] = clone.ID
	s.byTag[clone.Tag] = clone.ID
	return nil
}

// Update applies mutate under the store lock; check-and-set transitions
// performed inside mutate are atomic with respect to all other callers.
func (s *MemoryStore) Update(ctx context.Context, id interfaces.IdentityID, mutate func(*interfaces.IdentityRecord) error) (*interfaces.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	working := record.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}

	s.records[id] = working
	return working.Clone(), nil
}
