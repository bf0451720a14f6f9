package payrollhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/civitas-pay/payroll-provisioning-backend/api"
	"github.com/civitas-pay/payroll-provisioning-backend/api/authhandler"
	"github.com/civitas-pay/payroll-provisioning-backend/chaincommit"
	"github.com/civitas-pay/payroll-provisioning-backend/identity"
	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/session"
	"github.com/civitas-pay/payroll-provisioning-backend/settlement"
	"github.com/civitas-pay/payroll-provisioning-backend/storage"
	"github.com/civitas-pay/payroll-provisioning-backend/voucher"
)

type fixture struct {
	router    *chi.Mux
	engine    *identity.Engine
	executor  *settlement.MockExecutor
	committer *chaincommit.MockCommitter
	verifier  *chaincommit.MockVerifier
	sessions  *session.Gateway

	employer    *interfaces.IdentityRecord
	employee    *interfaces.IdentityRecord
	employeeOut interfaces.ProvisioningOutput
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	engine := identity.New(store, nil, log)

	gateway, err := session.New(bytes.Repeat([]byte{9}, 32), 0)
	require.NoError(t, err)

	executor := settlement.NewMockExecutor()
	lifecycle, err := voucher.NewLifecycle(voucher.LifecycleConfig{
		Store: store, Executor: executor, SourceAccount: "zs1treasury", Log: log,
	})
	require.NoError(t, err)
	issuer := voucher.NewCredentialIssuer(store, 0, log)

	committer := &chaincommit.MockCommitter{}
	verifier := &chaincommit.MockVerifier{}

	authH := authhandler.NewHandler(engine, gateway, false, log)
	payrollH := NewHandler(Config{
		Engine: engine, Lifecycle: lifecycle, Issuer: issuer,
		Committer: committer, Verifier: verifier, OrgID: "org_test", Log: log,
	})

	router := chi.NewRouter()
	authH.RegisterRoutes(router)
	payrollH.RegisterRoutes(router, authH.Middleware)

	records, outputs, err := engine.Provision(context.Background(), []interfaces.Seed{
		{Username: "boss", Role: interfaces.RoleEmployer},
		{Username: "alice", Amount: 4.2},
	}, "org_test", "run_1")
	require.NoError(t, err)

	return &fixture{
		router:    router,
		engine:    engine,
		executor:  executor,
		committer: committer,
		verifier:  verifier,
		sessions:  gateway,

		employer:    records[0],
		employee:    records[1],
		employeeOut: outputs[1],
	}
}

func (f *fixture) request(t *testing.T, method, path string, body any, as *interfaces.IdentityRecord) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if as != nil {
		token, err := f.sessions.Issue(as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleProvision(t *testing.T) {
	f := newFixture(t)

	body := api.ProvisionRequest{Seeds: []interfaces.Seed{{Username: "carol", Amount: 2}}, RunID: "run_2"}
	rec := f.request(t, http.MethodPost, "/api/identities/provision", body, f.employer)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp api.ProvisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Provisioned, 1)
	assert.Equal(t, "carol", resp.Provisioned[0].Username)
	assert.NotEmpty(t, resp.Provisioned[0].TemporaryPassword)

	// Role gating and session requirements.
	rec = f.request(t, http.MethodPost, "/api/identities/provision", body, f.employee)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.request(t, http.MethodPost, "/api/identities/provision", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Duplicate login conflicts.
	rec = f.request(t, http.MethodPost, "/api/identities/provision", body, f.employer)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleListIdentities(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/identities", nil, f.employer)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []*interfaces.PublicIdentity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 2)
	assert.NotContains(t, rec.Body.String(), "password_hash")
	assert.NotContains(t, rec.Body.String(), "credential_nonce")

	rec = f.request(t, http.MethodGet, "/api/identities", nil, f.employee)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleListVouchers(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/vouchers", nil, f.employee)
	require.Equal(t, http.StatusOK, rec.Code)

	var vouchers []interfaces.PaymentVoucher
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vouchers))
	require.Len(t, vouchers, 1)
	assert.Equal(t, 4.2, vouchers[0].Amount)
}

func TestHandleRedeem(t *testing.T) {
	f := newFixture(t)
	voucherID := f.employee.Vouchers[0].VoucherID
	bundle := &f.employeeOut.CredentialFile.EncryptedCredential

	f.executor.On("Send", "zs1treasury", "zs1dest", 4.2, "Voucher "+voucherID, "voucher:"+voucherID).
		Return("txid_1", nil).Once()

	rec := f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "zs1dest", Credential: bundle,
	}, f.employee)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.RedeemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "txid_1", resp.Voucher.SettlementTxID)

	// Second redeem conflicts without another executor call.
	rec = f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "zs1dest", Credential: bundle,
	}, f.employee)
	assert.Equal(t, http.StatusConflict, rec.Code)
	f.executor.AssertNumberOfCalls(t, "Send", 1)
}

func TestHandleRedeem_RequiresCredential(t *testing.T) {
	f := newFixture(t)
	voucherID := f.employee.Vouchers[0].VoucherID

	// A valid session alone must not settle anything.
	rec := f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "zs1dest",
	}, f.employee)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	// An empty bundle is no better than a missing one.
	rec = f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "zs1dest",
		Credential: &interfaces.EncryptedCredential{},
	}, f.employee)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.executor.AssertNotCalled(t, "Send")

	record, err := f.engine.Get(context.Background(), f.employee.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VoucherIssued, record.Vouchers[0].Status)
}

func TestHandleRedeem_Guards(t *testing.T) {
	f := newFixture(t)
	voucherID := f.employee.Vouchers[0].VoucherID
	bundle := &f.employeeOut.CredentialFile.EncryptedCredential

	// A voucher the subject does not own is invisible.
	rec := f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "zs1dest", Credential: bundle,
	}, f.employer)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Transparent destination.
	rec = f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "t1transparent", Credential: bundle,
	}, f.employee)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Tampered credential bundle.
	tampered := f.employeeOut.CredentialFile.EncryptedCredential
	tampered.Ciphertext = tampered.IV
	rec = f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "zs1dest", Credential: &tampered,
	}, f.employee)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.executor.AssertNotCalled(t, "Send")
}

func TestHandleRedeem_SettlementFailure(t *testing.T) {
	f := newFixture(t)
	voucherID := f.employee.Vouchers[0].VoucherID

	f.executor.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", assert.AnError).Once()

	rec := f.request(t, http.MethodPost, "/api/vouchers/redeem", api.RedeemRequest{
		VoucherID: voucherID, Destination: "zs1dest",
		Credential: &f.employeeOut.CredentialFile.EncryptedCredential,
	}, f.employee)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	record, err := f.engine.Get(context.Background(), f.employee.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.VoucherIssued, record.Vouchers[0].Status)
}

func TestHandleCredentialVoucherFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost,
		"/api/identities/"+f.employee.ID.String()+"/credential-voucher", nil, f.employer)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp api.CredentialVoucherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Contains(t, resp.DownloadURL, "/api/credential/"+resp.Token)

	// Download is unauthenticated; the token is the capability.
	rec = f.request(t, http.MethodGet, "/api/credential/"+resp.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var file interfaces.CredentialFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.Equal(t, f.employee.ID, file.IdentityID)
	assert.Equal(t, f.employee.Credential, file.EncryptedCredential)

	// Single use.
	rec = f.request(t, http.MethodGet, "/api/credential/"+resp.Token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCredentialVoucher_Gating(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost,
		"/api/identities/"+f.employee.ID.String()+"/credential-voucher", nil, f.employee)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodPost,
		"/api/identities/unknown-id/credential-voucher", nil, f.employer)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCredentialVoucher_OnDemandProvisioning(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost,
		"/api/identities/fresh-id/credential-voucher",
		api.CredentialVoucherRequest{Seed: &interfaces.Seed{Username: "dora", Amount: 1}},
		f.employer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	record, err := f.engine.Get(context.Background(), "fresh-id")
	require.NoError(t, err)
	assert.Equal(t, "dora", record.Username)
	assert.Len(t, record.CredentialVouchers, 1)
}

func TestHandleSettle(t *testing.T) {
	f := newFixture(t)
	voucherID := f.employee.Vouchers[0].VoucherID

	f.executor.On("Send", "zs1treasury", "zs1dest", 4.2, "bonus run", "voucher:"+voucherID).
		Return("txid_settle", nil).Once()

	rec := f.request(t, http.MethodPost, "/api/payroll/settle", api.SettleRequest{
		IdentityID: f.employee.ID.String(), VoucherID: voucherID,
		Destination: "zs1dest", Memo: "bonus run",
	}, f.employer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "txid_settle", resp.Voucher.SettlementTxID)

	rec = f.request(t, http.MethodPost, "/api/payroll/settle", api.SettleRequest{
		VoucherID: voucherID, Destination: "zs1dest",
	}, f.employer)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "voucher_id without identity_id")

	rec = f.request(t, http.MethodPost, "/api/payroll/settle", api.SettleRequest{}, f.employee)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSettle_BatchRun(t *testing.T) {
	f := newFixture(t)

	// alice has no wallet address, so the batch skips her voucher.
	rec := f.request(t, http.MethodPost, "/api/payroll/settle", api.SettleRequest{RunID: "run_1"}, f.employer)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Settled)
	assert.Equal(t, []string{f.employee.Vouchers[0].VoucherID}, resp.Skipped)
	f.executor.AssertNotCalled(t, "Send")
}

func TestHandleCommit(t *testing.T) {
	f := newFixture(t)

	req := api.CommitRequest{
		RunID:         "run_1",
		PayrollRoot:   "0xroot",
		TotalAmount:   "420000",
		Proof:         json.RawMessage(`{"protocol":"groth16"}`),
		PublicSignals: []string{"0xroot", "420000"},
	}

	f.verifier.On("Verify", req.PublicSignals, "420000").Return(true, nil).Once()
	f.committer.On("Commit", mock.MatchedBy(func(run interfaces.RunCommit) bool {
		return run.RunID == "run_1" && run.PayrollRoot == "0xroot"
	})).Return("0xtxhash", nil).Once()

	rec := f.request(t, http.MethodPost, "/api/payroll/commit", req, f.employer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.CommitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xtxhash", resp.TxHash)
	f.verifier.AssertExpectations(t)
	f.committer.AssertExpectations(t)
}

func TestHandleCommit_RefusedProof(t *testing.T) {
	f := newFixture(t)

	req := api.CommitRequest{RunID: "run_1", TotalAmount: "1", PublicSignals: []string{"2"}}
	f.verifier.On("Verify", req.PublicSignals, "1").Return(false, nil).Once()

	rec := f.request(t, http.MethodPost, "/api/payroll/commit", req, f.employer)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	f.committer.AssertNotCalled(t, "Commit")

	rec = f.request(t, http.MethodPost, "/api/payroll/commit", req, f.employee)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
