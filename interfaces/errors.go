package interfaces

import "errors"

// Error taxonomy shared across the core. Handlers map these onto HTTP
// statuses; nothing in the core retries on its own.
var (
	// ErrNotFound covers every lookup miss. Authentication paths report
	// ErrUnauthorized instead so the outward signal stays uniform.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is the uniform authorization failure. It never
	// distinguishes unknown login from wrong secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists reports a uniqueness violation (login name or tag).
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict reports a terminal state conflict: a voucher that has
	// already left issued, or a credential voucher already consumed or
	// expired. Distinct from ErrUnauthorized so a legitimate caller can
	// tell why nothing was sent.
	ErrConflict = errors.New("state conflict")

	// ErrValidation reports malformed input, rejected before the store is
	// touched.
	ErrValidation = errors.New("invalid input")

	// ErrSettlementFailed reports a settlement executor failure. The
	// voucher stays issued, so a caller-driven retry is safe.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrConfiguration reports a fatal, non-recoverable condition such as
	// a missing cryptographic primitive or an unreadable store.
	ErrConfiguration = errors.New("configuration error")
)
