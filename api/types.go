package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// LoginRequest is a username/password login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ZKLoginRequest is a proof-of-possession login. Method selects the
// check: "tag" recomputes the tag from the presented nonce, "credential"
// compares the uploaded bundle byte-exactly against the stored one.
type ZKLoginRequest struct {
	Method     string                         `json:"method"`
	Tag        interfaces.Tag                 `json:"identity_tag"`
	Nonce      string                         `json:"credential_nonce,omitempty"`
	Credential interfaces.EncryptedCredential `json:"credential,omitempty"`
}

// SessionResponse is returned by both login flows.
type SessionResponse struct {
	Token    string                     `json:"token"`
	Identity *interfaces.PublicIdentity `json:"identity"`
}

// ProvisionRequest creates identities in batch.
type ProvisionRequest struct {
	Seeds []interfaces.Seed `json:"seeds"`
	OrgID string            `json:"org_id"`
	RunID string            `json:"run_id,omitempty"`
}

// ProvisionResponse carries the single-disclosure provisioning material.
type ProvisionResponse struct {
	Provisioned []interfaces.ProvisioningOutput `json:"provisioned"`
}

// RedeemRequest settles one of the session subject's vouchers. The
// credential bundle is required and is re-verified against the stored
// bundle before settlement; a request without one is rejected.
type RedeemRequest struct {
	VoucherID   string                          `json:"voucher_id"`
	Destination string                          `json:"destination"`
	Memo        string                          `json:"memo,omitempty"`
	Credential  *interfaces.EncryptedCredential `json:"credential"`
}

// RedeemResponse reports the settled voucher.
type RedeemResponse struct {
	Voucher *interfaces.PaymentVoucher `json:"voucher"`
}

// CredentialVoucherRequest optionally carries an inline seed so an
// unknown identity can be provisioned on demand before issuance.
type CredentialVoucherRequest struct {
	Seed *interfaces.Seed `json:"seed,omitempty"`
}

// CredentialVoucherResponse carries the bearer token exactly once.
type CredentialVoucherResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	DownloadURL string    `json:"download_url"`
}

// SettleRequest is the employer-side settlement of a named identity's
// voucher. With no voucher id, every issued voucher of the run settles
// to each identity's stored wallet address.
type SettleRequest struct {
	IdentityID  string `json:"identity_id,omitempty"`
	VoucherID   string `json:"voucher_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	Memo        string `json:"memo,omitempty"`
}

// SettleResponse reports per-voucher outcomes of a batch settlement, or
// the single settled voucher.
type SettleResponse struct {
	Voucher *interfaces.PaymentVoucher `json:"voucher,omitempty"`
	Settled []string                   `json:"settled,omitempty"`
	Skipped []string                   `json:"skipped,omitempty"`
}

// CommitRequest anchors a payroll run's root after proof verification.
type CommitRequest struct {
	RunID         string          `json:"run_id"`
	PayrollRoot   string          `json:"payroll_root"`
	TotalAmount   string          `json:"total_amount"`
	Proof         json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"public_signals"`
}

// CommitResponse carries the anchoring transaction hash.
type CommitResponse struct {
	TxHash string `json:"tx_hash"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto an HTTP status. Authorization
// failures deliberately carry no detail.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, interfaces.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrAlreadyExists), errors.Is(err, interfaces.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, interfaces.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrSettlementFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, interfaces.ErrConfiguration):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
