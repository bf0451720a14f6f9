package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// errNoDocument is returned by blob backends when no store document has
// been written yet.
var errNoDocument = errors.New("store document not found")

// blobBackend persists the identity store as one opaque document. The
// DocumentStore serializes all access with its own lock, so backends do
// not need any concurrency control of their own.
type blobBackend interface {
	// Load fetches the current document, or errNoDocument.
	Load(ctx context.Context) ([]byte, error)

	// Save durably replaces the document.
	Save(ctx context.Context, data []byte) error

	// Name identifies the backend in logs.
	Name() string
}

// storeDocument is the serialized shape of the identity store.
type storeDocument struct {
	Version    int                          `json:"version"`
	Identities []*interfaces.IdentityRecord `json:"identities"`
}

// DocumentStore keeps the full record set in memory and writes it through
// to a blob backend on every mutation. One mutex serializes all
// read-modify-write sequences globally, which satisfies the per-record
// atomicity contract for a single process. A production store for large
// tenants would instead use a backend with per-key compare-and-swap and
// index credential-voucher token hashes directly; only latency changes,
// the at-most-once guarantees do not depend on it.
type DocumentStore struct {
	*MemoryStore
	backend blobBackend
	log     *slog.Logger
}

// newDocumentStore loads the existing document from the backend, or
// initializes an empty one. Unreadable or unparsable state surfaces as a
// configuration error.
func newDocumentStore(ctx context.Context, backend blobBackend, log *slog.Logger) (*DocumentStore, error) {
	s := &DocumentStore{MemoryStore: NewMemoryStore(), backend: backend, log: log}

	raw, err := backend.Load(ctx)
	if errors.Is(err, errNoDocument) {
		if err := s.flushLocked(ctx); err != nil {
			return nil, err
		}
		log.Info("Initialized identity store", slog.String("backend", backend.Name()))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read identity store: %v", interfaces.ErrConfiguration, err)
	}

	var doc storeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse identity store: %v", interfaces.ErrConfiguration, err)
	}
	for _, record := range doc.Identities {
		if err := s.MemoryStore.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("%w: duplicate record in identity store: %v", interfaces.ErrConfiguration, err)
		}
	}

	log.Debug("Loaded identity store",
		slog.String("backend", backend.Name()),
		slog.Int("records", len(doc.Identities)))
	return s, nil
}

// Create inserts a record and persists the document.
func (s *DocumentStore) Create(ctx context.Context, record *interfaces.IdentityRecord) error {
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

	if err := s.flushLocked(ctx); err != nil {
		delete(s.records, clone.ID)
		delete(s.byLogin, clone.UsernameNormalized)
		delete(s.byTag, clone.Tag)
		return err
	}
	return nil
}

// Update applies mutate and persists, as one atomic unit. A failed write
// rolls the in-memory state back so partial writes are never observable.
func (s *DocumentStore) Update(ctx context.Context, id interfaces.IdentityID, mutate func(*interfaces.IdentityRecord) error) (*interfaces.IdentityRecord, error) {
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
	if err := s.flushLocked(ctx); err != nil {
		s.records[id] = record
		return nil, err
	}
	return working.Clone(), nil
}

func (s *DocumentStore) flushLocked(ctx context.Context) error {
	doc := storeDocument{Version: 1, Identities: make([]*interfaces.IdentityRecord, 0, len(s.records))}
	for _, record := range s.records {
		doc.Identities = append(doc.Identities, record)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize identity store: %w", err)
	}
	if err := s.backend.Save(ctx, raw); err != nil {
		return fmt.Errorf("failed to persist identity store: %w", err)
	}
	return nil
}
