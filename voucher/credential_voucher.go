package voucher

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/metrics"
)

// DefaultCredentialVoucherTTL is how long a download token stays valid.
const DefaultCredentialVoucherTTL = 7 * 24 * time.Hour

// credentialTokenBytes is the entropy of a download token.
const credentialTokenBytes = 24

// CredentialIssuer mints and redeems single-use credential-download
// vouchers. Only the sha256 of a token is persisted; the bearer token
// itself exists once, in the Issue return value.
type CredentialIssuer struct {
	store interfaces.IdentityStore
	ttl   time.Duration
	log   *slog.Logger
}

// NewCredentialIssuer wires a credential voucher issuer. A non-positive
// ttl selects DefaultCredentialVoucherTTL.
func NewCredentialIssuer(store interfaces.IdentityStore, ttl time.Duration, log *slog.Logger) *CredentialIssuer {
	if ttl <= 0 {
		ttl = DefaultCredentialVoucherTTL
	}
	return &CredentialIssuer{store: store, ttl: ttl, log: log}
}

// HashToken returns the persisted form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue mints a new download voucher for the identity and returns the
// plaintext bearer token. Issuing does not invalidate earlier vouchers;
// each is independently single-use.
func (c *CredentialIssuer) Issue(ctx context.Context, identityID interfaces.IdentityID) (token string, voucher *interfaces.CredentialVoucher, err error) {
	raw := make([]byte, credentialTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("%w: randomness unavailable: %v", interfaces.ErrConfiguration, err)
	}
	token = hex.EncodeToString(raw)

	now := time.Now().UTC()
	minted := interfaces.CredentialVoucher{
		TokenHash: HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Status:    interfaces.CredentialVoucherActive,
	}

	updated, err := c.store.Update(ctx, identityID, func(r *interfaces.IdentityRecord) error {
		r.CredentialVouchers = append(r.CredentialVouchers, minted)
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	c.log.Info("Credential voucher issued",
		slog.String("identityID", identityID.String()),
		slog.Time("expiresAt", minted.ExpiresAt))

	stored := updated.CredentialVouchers[len(updated.CredentialVouchers)-1]
	return token, &stored, nil
}

// Redeem consumes a bearer token and returns the owning identity's
// credential file. Unknown, expired, and already-consumed tokens all
// fail with the same ErrUnauthorized; the caller learns nothing about
// which. The consume itself is an atomic active-to-consumed flip, so a
// token downloads a bundle at most once.
func (c *CredentialIssuer) Redeem(ctx context.Context, token string) (*interfaces.CredentialFile, error) {
	if token == "" {
		return nil, interfaces.ErrUnauthorized
	}
	hash := HashToken(token)

	records, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var owner *interfaces.IdentityRecord
	for _, record := range records {
		for i := range record.CredentialVouchers {
			if record.CredentialVouchers[i].TokenHash == hash {
				owner = record
				break
			}
		}
		if owner != nil {
			break
		}
	}
	if owner == nil {
		return nil, interfaces.ErrUnauthorized
	}

	now := time.Now().UTC()
	updated, err := c.store.Update(ctx, owner.ID, func(r *interfaces.IdentityRecord) error {
		for i := range r.CredentialVouchers {
			v := &r.CredentialVouchers[i]
			if v.TokenHash != hash {
				continue
			}
			if v.Status != interfaces.CredentialVoucherActive || now.After(v.ExpiresAt) {
				return errors.New("voucher not redeemable")
			}
			v.Status = interfaces.CredentialVoucherConsumed
			v.DownloadedAt = &now
			r.UpdatedAt = now
			return nil
		}
		return errors.New("voucher vanished")
	})
	if err != nil {
		return nil, interfaces.ErrUnauthorized
	}

	metrics.CredentialVouchersRedeemed.Inc()
	c.log.Info("Credential voucher redeemed",
		slog.String("identityID", updated.ID.String()))

	return &interfaces.CredentialFile{
		EncryptedCredential: updated.Credential,
		IdentityID:          updated.ID,
		Tag:                 updated.Tag,
	}, nil
}
