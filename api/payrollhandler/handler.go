// Package payrollhandler serves the payroll surface: batch provisioning,
// identity and voucher listing, voucher redemption and settlement,
// credential-voucher issuance and download, and payroll-root commits.
package payrollhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/civitas-pay/payroll-provisioning-backend/api"
	"github.com/civitas-pay/payroll-provisioning-backend/api/authhandler"
	"github.com/civitas-pay/payroll-provisioning-backend/credential"
	"github.com/civitas-pay/payroll-provisioning-backend/identity"
	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/voucher"
)

// Handler wires the payroll operations to the HTTP surface. Every route
// except the token-capability credential download sits behind the
// session middleware; role checks happen per route.
type Handler struct {
	engine    *identity.Engine
	lifecycle *voucher.Lifecycle
	issuer    *voucher.CredentialIssuer
	committer interfaces.RunCommitter
	verifier  interfaces.ProofVerifier
	orgID     string
	log       *slog.Logger
}

// Config collects the handler's collaborators. Committer and Verifier
// may be nil, in which case run commits are refused as unconfigured.
type Config struct {
	Engine    *identity.Engine
	Lifecycle *voucher.Lifecycle
	Issuer    *voucher.CredentialIssuer
	Committer interfaces.RunCommitter
	Verifier  interfaces.ProofVerifier
	OrgID     string
	Log       *slog.Logger
}

// NewHandler creates a payroll handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		engine:    cfg.Engine,
		lifecycle: cfg.Lifecycle,
		issuer:    cfg.Issuer,
		committer: cfg.Committer,
		verifier:  cfg.Verifier,
		orgID:     cfg.OrgID,
		log:       cfg.Log,
	}
}

// RegisterRoutes mounts the payroll routes. The sessioned middleware is
// supplied by the auth handler so both packages agree on claim
// extraction.
func (h *Handler) RegisterRoutes(r chi.Router, sessioned func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(sessioned)
		r.Post("/api/identities/provision", h.HandleProvision)
		r.Get("/api/identities", h.HandleListIdentities)
		r.Get("/api/vouchers", h.HandleListVouchers)
		r.Post("/api/vouchers/redeem", h.HandleRedeem)
		r.Post("/api/identities/{identity_id}/credential-voucher", h.HandleIssueCredentialVoucher)
		r.Post("/api/payroll/settle", h.HandleSettle)
		r.Post("/api/payroll/commit", h.HandleCommit)
	})
	// The bearer token is the whole capability.
	r.Get("/api/credential/{token}", h.HandleDownloadCredential)
}

func requireRole(ctx context.Context, roles ...interfaces.Role) error {
	claims := authhandler.ClaimsFromContext(ctx)
	if claims == nil {
		return interfaces.ErrUnauthorized
	}
	return claims.RequireRole(roles...)
}

// HandleProvision creates identities in batch and returns the
// single-disclosure provisioning material. Employer only.
//
// URL format: POST /api/identities/provision
func (h *Handler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r.Context(), interfaces.RoleEmployer); err != nil {
		api.WriteError(w, err)
		return
	}

	var req api.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: malformed request body", interfaces.ErrValidation))
		return
	}
	if req.OrgID == "" {
		req.OrgID = h.orgID
	}

	_, outputs, err := h.engine.Provision(r.Context(), req.Seeds, req.OrgID, req.RunID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, api.ProvisionResponse{Provisioned: outputs})
}

// HandleListIdentities returns every sanitized record. Employer or
// auditor.
//
// URL format: GET /api/identities
func (h *Handler) HandleListIdentities(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r.Context(), interfaces.RoleEmployer, interfaces.RoleAuditor); err != nil {
		api.WriteError(w, err)
		return
	}

	records, err := h.engine.List(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	out := make([]*interfaces.PublicIdentity, 0, len(records))
	for _, record := range records {
		out = append(out, identity.Sanitize(record))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// HandleListVouchers returns the session subject's payment vouchers.
//
// URL format: GET /api/vouchers
func (h *Handler) HandleListVouchers(w http.ResponseWriter, r *http.Request) {
	claims := authhandler.ClaimsFromContext(r.Context())
	if claims == nil {
		api.WriteError(w, interfaces.ErrUnauthorized)
		return
	}

	record, err := h.engine.Get(r.Context(), claims.IdentityID())
	if err != nil {
		api.WriteError(w, interfaces.ErrUnauthorized)
		return
	}
	api.WriteJSON(w, http.StatusOK, record.Vouchers)
}

// HandleRedeem settles one of the session subject's vouchers to a
// shielded address. The session alone is not enough: the caller must
// attach the credential bundle, which is re-verified against the stored
// one before the transition is attempted. Ownership is checked before
// anything reaches the settlement executor.
//
// URL format: POST /api/vouchers/redeem
func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	claims := authhandler.ClaimsFromContext(r.Context())
	if claims == nil {
		api.WriteError(w, interfaces.ErrUnauthorized)
		return
	}

	var req api.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: malformed request body", interfaces.ErrValidation))
		return
	}
	if req.Credential == nil || req.Credential.Zero() {
		api.WriteError(w, fmt.Errorf("%w: credential bundle required", interfaces.ErrValidation))
		return
	}

	record, err := h.engine.Get(r.Context(), claims.IdentityID())
	if err != nil {
		api.WriteError(w, interfaces.ErrUnauthorized)
		return
	}
	if record.Voucher(req.VoucherID) == nil {
		api.WriteError(w, fmt.Errorf("%w: voucher %s", interfaces.ErrNotFound, req.VoucherID))
		return
	}
	if !credential.Verify(record.Credential, *req.Credential) {
		api.WriteError(w, interfaces.ErrUnauthorized)
		return
	}

	memo := req.Memo
	if memo == "" {
		memo = "Voucher " + req.VoucherID
	}

	settled, err := h.lifecycle.Redeem(r.Context(), record.ID, req.VoucherID, req.Destination, memo)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.RedeemResponse{Voucher: settled})
}

// HandleIssueCredentialVoucher mints a single-use download token for the
// named identity. Employer only. An unknown identity id provisions on
// demand when a seed rides along in the request.
//
// URL format: POST /api/identities/{identity_id}/credential-voucher
func (h *Handler) HandleIssueCredentialVoucher(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r.Context(), interfaces.RoleEmployer); err != nil {
		api.WriteError(w, err)
		return
	}

	var req api.CredentialVoucherRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteError(w, fmt.Errorf("%w: malformed request body", interfaces.ErrValidation))
			return
		}
	}

	identityID := interfaces.IdentityID(chi.URLParam(r, "identity_id"))
	if _, err := h.engine.Get(r.Context(), identityID); err != nil {
		if req.Seed == nil {
			api.WriteError(w, err)
			return
		}
		seed := *req.Seed
		seed.IdentityID = identityID.String()
		if _, _, err := h.engine.Provision(r.Context(), []interfaces.Seed{seed}, h.orgID, ""); err != nil {
			api.WriteError(w, err)
			return
		}
	}

	token, minted, err := h.issuer.Issue(r.Context(), identityID)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, api.CredentialVoucherResponse{
		Token:       token,
		ExpiresAt:   minted.ExpiresAt,
		DownloadURL: requestOrigin(r) + "/api/credential/" + token,
	})
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// HandleDownloadCredential exchanges a bearer token for the credential
// file. Unauthenticated: the single-use token is the capability.
//
// URL format: GET /api/credential/{token}
func (h *Handler) HandleDownloadCredential(w http.ResponseWriter, r *http.Request) {
	file, err := h.issuer.Redeem(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=credential.json")
	api.WriteJSON(w, http.StatusOK, file)
}

// HandleSettle drives a named identity's voucher through settlement, or
// batch-settles a whole run when no voucher id is given. Employer or
// auditor.
//
// URL format: POST /api/payroll/settle
func (h *Handler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r.Context(), interfaces.RoleEmployer, interfaces.RoleAuditor); err != nil {
		api.WriteError(w, err)
		return
	}

	var req api.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: malformed request body", interfaces.ErrValidation))
		return
	}

	if req.VoucherID == "" {
		settled, skipped, err := h.lifecycle.SettleRun(r.Context(), req.RunID)
		if err != nil {
			api.WriteError(w, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, api.SettleResponse{Settled: settled, Skipped: skipped})
		return
	}

	if req.IdentityID == "" {
		api.WriteError(w, fmt.Errorf("%w: identity_id required with voucher_id", interfaces.ErrValidation))
		return
	}

	memo := req.Memo
	if memo == "" {
		memo = "Voucher " + req.VoucherID
	}

	settled, err := h.lifecycle.Redeem(r.Context(), interfaces.IdentityID(req.IdentityID), req.VoucherID, req.Destination, memo)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SettleResponse{Voucher: settled})
}

// HandleCommit verifies a payroll proof and anchors the run's root on
// chain. Employer only. A refused proof yields 422; the root is opaque
// end to end.
//
// URL format: POST /api/payroll/commit
func (h *Handler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r.Context(), interfaces.RoleEmployer); err != nil {
		api.WriteError(w, err)
		return
	}
	if h.committer == nil || h.verifier == nil {
		api.WriteError(w, fmt.Errorf("%w: run commits are not configured", interfaces.ErrConfiguration))
		return
	}

	var req api.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: malformed request body", interfaces.ErrValidation))
		return
	}

	ok, err := h.verifier.Verify(r.Context(), req.Proof, req.PublicSignals, req.TotalAmount)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if !ok {
		http.Error(w, "proof refused", http.StatusUnprocessableEntity)
		return
	}

	txHash, err := h.committer.Commit(r.Context(), interfaces.RunCommit{
		RunID:         req.RunID,
		PayrollRoot:   req.PayrollRoot,
		TotalAmount:   req.TotalAmount,
		Proof:         req.Proof,
		PublicSignals: req.PublicSignals,
	})
	if err != nil {
		api.WriteError(w, err)
		return
	}

	h.log.Info("Payroll run committed",
		slog.String("runID", req.RunID), slog.String("txHash", txHash))
	api.WriteJSON(w, http.StatusOK, api.CommitResponse{TxHash: txHash})
}
