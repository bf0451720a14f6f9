package chaincommit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// StructuralVerifier gates run commits on the shape of a Groth16 proof
// and on the declared total matching the proof's public signals. Pairing
// verification happens in the prover pipeline before material reaches
// this service; this check stops malformed or mismatched submissions
// from being anchored.
type StructuralVerifier struct {
	log *slog.Logger
}

// NewStructuralVerifier creates a structural proof verifier.
func NewStructuralVerifier(log *slog.Logger) *StructuralVerifier {
	return &StructuralVerifier{log: log}
}

type groth16Proof struct {
	PiA      []json.RawMessage   `json:"pi_a"`
	PiB      [][]json.RawMessage `json:"pi_b"`
	PiC      []json.RawMessage   `json:"pi_c"`
	Protocol string              `json:"protocol"`
}

// Verify reports whether the submission is acceptable. It never returns
// an error for a merely bad proof; errors are reserved for verifier
// malfunction so callers can distinguish "refused" from "broken".
func (v *StructuralVerifier) Verify(ctx context.Context, proof json.RawMessage, publicSignals []string, declaredTotal string) (bool, error) {
	var parsed groth16Proof
	if err := json.Unmarshal(proof, &parsed); err != nil {
		v.log.Warn("Refusing unparseable proof", "err", err)
		return false, nil
	}
	if parsed.Protocol != "groth16" ||
		len(parsed.PiA) < 2 || len(parsed.PiB) < 2 || len(parsed.PiC) < 2 {
		v.log.Warn("Refusing structurally invalid proof")
		return false, nil
	}
	if len(publicSignals) == 0 {
		return false, nil
	}
	// The circuit exposes the payroll total as its last public signal.
	if publicSignals[len(publicSignals)-1] != declaredTotal {
		v.log.Warn("Refusing proof: declared total does not match public signals",
			slog.String("declared", declaredTotal))
		return false, nil
	}
	return true, nil
}

var _ interfaces.ProofVerifier = (*StructuralVerifier)(nil)
