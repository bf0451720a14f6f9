package interfaces

import (
	"context"
	"encoding/json"
)

// SettlementExecutor is the external system that actually moves funds.
// Send must be safe to retry with the same idempotency reference; the
// voucher id is used as that reference precisely so a retry after a
// network timeout cannot double-pay.
type SettlementExecutor interface {
	Send(ctx context.Context, source, destination string, amount float64, memo, idempotencyRef string) (txid string, err error)
}

// RunCommit is the input to the run-commit collaborator.
type RunCommit struct {
	RunID         string          `json:"run_id"`
	PayrollRoot   string          `json:"payroll_root"`
	TotalAmount   string          `json:"total_amount"`
	Proof         json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"public_signals"`
}

// RunCommitter records an accepted payroll root on an external chain.
// The root is an opaque string to this core.
type RunCommitter interface {
	Commit(ctx context.Context, run RunCommit) (txHash string, err error)
}

// ProofVerifier decides whether a payroll proof is acceptable for a
// declared total. The proof wire format is a black box.
type ProofVerifier interface {
	Verify(ctx context.Context, proof json.RawMessage, publicSignals []string, declaredTotal string) (bool, error)
}

// BundleArchive stores immutable copies of encrypted credential bundles
// in content-addressed storage and returns the content id.
type BundleArchive interface {
	Archive(ctx context.Context, file CredentialFile) (string, error)
}
