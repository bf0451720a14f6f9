package interfaces

import "context"

// IdentityStore is the durable keyed store of identity records. It is the
// single source of truth; every invariant of the voucher state machines
// rests on Update being atomic per record.
//
// Implementations must serialize read-modify-write sequences per record
// (or globally, for single-flat-file stores) so that check-and-set
// transitions are one atomic unit. The contract generalizes to any store
// offering per-key compare-and-swap; the reference backends in the
// storage package serialize with an in-process lock.
//
// Getters return ErrNotFound on a miss and deep copies on a hit, so
// callers can never mutate shared state outside Update.
type IdentityStore interface {
	// Get retrieves a record by internal id.
	Get(ctx context.Context, id IdentityID) (*IdentityRecord, error)

	// GetByLogin retrieves a record by normalized login name.
	GetByLogin(ctx context.Context, login string) (*IdentityRecord, error)

	// GetByTag retrieves a record by derived tag.
	GetByTag(ctx context.Context, tag Tag) (*IdentityRecord, error)

	// List returns all records. Reference implementation for the
	// credential-voucher token scan; an indexing store would look the
	// token hash up directly, changing latency but not correctness.
	List(ctx context.Context) ([]*IdentityRecord, error)

	// Create inserts a new record. Returns ErrAlreadyExists when the
	// normalized login name or the tag is taken.
	Create(ctx context.Context, record *IdentityRecord) error

	// Update applies mutate to the record under the store's lock and
	// persists the result, all as one atomic unit. When mutate returns an
	// error nothing is written and the error is returned unchanged.
	// Returns a deep copy of the stored record.
	Update(ctx context.Context, id IdentityID, mutate func(*IdentityRecord) error) (*IdentityRecord, error)
}
