// Package identity implements provisioning and authentication of payroll
// identities on top of the credential codec and the identity store.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/civitas-pay/payroll-provisioning-backend/credential"
	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/metrics"
)

// bcryptCost matches the original enrollment tooling so existing hashes
// keep verifying.
const bcryptCost = 10

// Engine provisions identities and authenticates callers by password,
// by tag proof-of-possession, or by credential bundle.
type Engine struct {
	store   interfaces.IdentityStore
	archive interfaces.BundleArchive // optional
	log     *slog.Logger
}

// New creates an engine. The archive may be nil; when present, encrypted
// credential bundles are additionally pinned to it at provisioning time.
func New(store interfaces.IdentityStore, archive interfaces.BundleArchive, log *slog.Logger) *Engine {
	return &Engine{store: store, archive: archive, log: log}
}

// Provision creates one identity per seed and returns both the durable
// records and the per-seed provisioning output. The output carries the
// plaintext one-time password, the plaintext nonce, and the encrypted
// bundle; this material is emitted exactly once, here, and is never
// recoverable afterward. There is deliberately no way to re-fetch it.
func (e *Engine) Provision(ctx context.Context, seeds []interfaces.Seed, orgID, runID string) ([]*interfaces.IdentityRecord, []interfaces.ProvisioningOutput, error) {
	if len(seeds) == 0 {
		return nil, nil, fmt.Errorf("%w: no seeds supplied", interfaces.ErrValidation)
	}
	if orgID == "" {
		return nil, nil, fmt.Errorf("%w: organization id required", interfaces.ErrValidation)
	}

	records := make([]*interfaces.IdentityRecord, 0, len(seeds))
	outputs := make([]interfaces.ProvisioningOutput, 0, len(seeds))

	for i := range seeds {
		record, output, err := e.provisionOne(ctx, &seeds[i], orgID, runID)
		if err != nil {
			return nil, nil, fmt.Errorf("seed %d: %w", i, err)
		}
		records = append(records, record)
		outputs = append(outputs, *output)
	}

	return records, outputs, nil
}

func (e *Engine) provisionOne(ctx context.Context, seed *interfaces.Seed, orgID, runID string) (*interfaces.IdentityRecord, *interfaces.ProvisioningOutput, error) {
	username := seed.Username
	if username == "" && seed.Email != "" {
		username = strings.SplitN(seed.Email, "@", 2)[0]
	}

	id := interfaces.IdentityID(seed.IdentityID)
	if id == "" {
		id = interfaces.IdentityID(uuid.NewString())
	}
	if username == "" {
		username = fmt.Sprintf("employee_%.8s", id)
	}

	if seed.Amount < 0 {
		return nil, nil, fmt.Errorf("%w: negative amount", interfaces.ErrValidation)
	}

	role := seed.Role
	if role == "" {
		role = interfaces.RoleEmployee
	}
	if !role.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown role %q", interfaces.ErrValidation, seed.Role)
	}

	password := seed.Password
	if password == "" {
		var err error
		password, err = RandomPassword(12)
		if err != nil {
			return nil, nil, err
		}
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	nonce, err := resolveNonce(seed.Nonce)
	if err != nil {
		return nil, nil, err
	}
	tag, err := credential.DeriveTag(nonce)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	payload := credential.Payload{
		IdentityID: id,
		Username:   username,
		Tag:        tag,
		OrgID:      orgID,
		IssuedAt:   now,
	}
	bundle, err := credential.Encrypt(payload, nonce)
	if err != nil {
		return nil, nil, err
	}

	currency := seed.Currency
	if currency == "" {
		currency = "ZEC"
	}

	record := &interfaces.IdentityRecord{
		ID:                 id,
		Username:           username,
		UsernameNormalized: interfaces.NormalizeUsername(username),
		PasswordHash:       string(passwordHash),
		Tag:                tag,
		Nonce:              nonce,
		Credential:         bundle,
		OrgID:              orgID,
		Role:               role,
		Vouchers: []interfaces.PaymentVoucher{{
			VoucherID: "voucher_" + uuid.NewString(),
			Amount:    seed.Amount,
			Currency:  currency,
			RunID:     runID,
			Status:    interfaces.VoucherIssued,
			Memo:      fmt.Sprintf("Payroll allocation for %s", username),
			IssuedAt:  now,
		}},
		CredentialVouchers: []interfaces.CredentialVoucher{},
		Profile: interfaces.Profile{
			Name:          seed.Name,
			Email:         seed.Email,
			WalletAddress: seed.WalletAddress,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Create(ctx, record); err != nil {
		return nil, nil, err
	}
	metrics.ProvisionedIdentities.Inc()

	file := interfaces.CredentialFile{
		EncryptedCredential: bundle,
		IdentityID:          id,
		Tag:                 tag,
	}
	if e.archive != nil {
		cid, err := e.archive.Archive(ctx, file)
		if err != nil {
			// The record is already durable; archival is best-effort.
			e.log.Warn("Failed to archive credential bundle",
				"err", err, slog.String("identityID", id.String()))
		} else {
			e.log.Debug("Credential bundle archived", slog.String("cid", cid))
		}
	}

	e.log.Info("Provisioned identity",
		slog.String("identityID", id.String()),
		slog.String("username", username),
		slog.String("orgID", orgID),
		slog.String("role", string(role)))

	return record, &interfaces.ProvisioningOutput{
		IdentityID:        id,
		Username:          username,
		TemporaryPassword: password,
		Tag:               tag,
		CredentialSecret:  nonce,
		CredentialFile:    file,
	}, nil
}

func resolveNonce(supplied string) (interfaces.Nonce, error) {
	if supplied != "" {
		nonce, err := interfaces.NewNonceFromHex(supplied)
		if err != nil {
			return "", fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
		}
		return nonce, nil
	}

	raw := make([]byte, interfaces.NonceByteLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: randomness unavailable: %v", interfaces.ErrConfiguration, err)
	}
	return interfaces.Nonce(hex.EncodeToString(raw)), nil
}

// Get returns the full identity record by id.
func (e *Engine) Get(ctx context.Context, id interfaces.IdentityID) (*interfaces.IdentityRecord, error) {
	return e.store.Get(ctx, id)
}

// List returns all identity records.
func (e *Engine) List(ctx context.Context) ([]*interfaces.IdentityRecord, error) {
	return e.store.List(ctx)
}

// dummyPasswordHash is compared against on unknown logins so the miss
// path pays the same bcrypt cost as a real comparison.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcryptCost)

// AuthenticateByPassword verifies a login/password pair. Unknown login
// and wrong password are indistinguishable to the caller: both return
// ErrUnauthorized, and both cost one bcrypt comparison.
func (e *Engine) AuthenticateByPassword(ctx context.Context, login, password string) (*interfaces.IdentityRecord, error) {
	if login == "" || password == "" {
		return nil, interfaces.ErrUnauthorized
	}

	record, err := e.store.GetByLogin(ctx, login)
	if err != nil {
		bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		return nil, interfaces.ErrUnauthorized
	}

	if bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)) != nil {
		return nil, interfaces.ErrUnauthorized
	}
	return record, nil
}

// AuthenticateByTag performs the proof-of-possession check: the caller
// presents a tag plus the nonce it claims produces that tag. The tag is
// recomputed from the candidate nonce and must match the stored tag
// exactly.
func (e *Engine) AuthenticateByTag(ctx context.Context, tag interfaces.Tag, nonceCandidate string) (*interfaces.IdentityRecord, error) {
	if tag == "" || nonceCandidate == "" {
		return nil, interfaces.ErrUnauthorized
	}

	record, err := e.store.GetByTag(ctx, tag)
	if err != nil {
		return nil, interfaces.ErrUnauthorized
	}

	nonce, err := interfaces.NewNonceFromHex(nonceCandidate)
	if err != nil {
		return nil, interfaces.ErrUnauthorized
	}
	derived, err := credential.DeriveTag(nonce)
	if err != nil || derived != record.Tag {
		return nil, interfaces.ErrUnauthorized
	}
	return record, nil
}

// AuthenticateByCredential verifies an uploaded credential bundle against
// the stored one, byte-exactly. No decryption happens here; only the
// nonce holder can decrypt, and that capability lives client-side.
func (e *Engine) AuthenticateByCredential(ctx context.Context, tag interfaces.Tag, bundle interfaces.EncryptedCredential) (*interfaces.IdentityRecord, error) {
	if tag == "" || bundle.Zero() {
		return nil, interfaces.ErrUnauthorized
	}

	record, err := e.store.GetByTag(ctx, tag)
	if err != nil {
		return nil, interfaces.ErrUnauthorized
	}

	if !credential.Verify(record.Credential, bundle) {
		return nil, interfaces.ErrUnauthorized
	}
	return record, nil
}

// Sanitize strips the password hash, the nonce, and the encrypted bundle
// before a record crosses the trust boundary into a response.
func Sanitize(record *interfaces.IdentityRecord) *interfaces.PublicIdentity {
	if record == nil {
		return nil
	}
	clone := record.Clone()
	return &interfaces.PublicIdentity{
		ID:                 clone.ID,
		Username:           clone.Username,
		Tag:                clone.Tag,
		OrgID:              clone.OrgID,
		Role:               clone.Role,
		Vouchers:           clone.Vouchers,
		CredentialVouchers: clone.CredentialVouchers,
		Profile:            clone.Profile,
		CreatedAt:          clone.CreatedAt,
		UpdatedAt:          clone.UpdatedAt,
	}
}
