package interfaces

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// IdentityID is the stable, generator-assigned id of an identity record.
type IdentityID string

// String returns the raw id.
func (id IdentityID) String() string { return string(id) }

// Tag is the public, deterministic, one-way derivative of an identity's
// private nonce. It can be presented without revealing the nonce.
type Tag string

// String returns the hex-encoded tag.
func (t Tag) String() string { return string(t) }

// Nonce is the server-held private secret of an identity, hex encoded.
// The tag and the credential-encryption key are both derived from it.
type Nonce string

// NonceByteLen is the byte length of a generated nonce.
const NonceByteLen = 32

// NewNonceFromHex validates and normalizes a hex nonce. The nonce is
// interpreted by its integer value, so shorter inputs are accepted and
// left-padded during derivation; non-hex input is rejected.
func NewNonceFromHex(source string) (Nonce, error) {
	clean := strings.ToLower(strings.TrimPrefix(source, "0x"))
	if clean == "" {
		return "", errors.New("empty nonce")
	}
	if len(clean) > NonceByteLen*2 {
		return "", errors.New("nonce longer than 32 bytes")
	}
	padded := clean
	if len(padded)%2 != 0 {
		padded = "0" + padded
	}
	if _, err := hex.DecodeString(padded); err != nil {
		return "", errors.New("nonce is not valid hex")
	}
	return Nonce(clean), nil
}

// Bytes32 returns the nonce's integer value as a 32-byte big-endian array.
func (n Nonce) Bytes32() ([32]byte, error) {
	clean := string(n)
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) > 32 {
		return [32]byte{}, errors.New("malformed nonce")
	}
	var out [32]byte
	copy(out[32-len(raw):], raw)
	return out, nil
}

// Role describes what an identity is allowed to do.
type Role string

const (
	RoleEmployer Role = "employer"
	RoleEmployee Role = "employee"
	RoleAuditor  Role = "auditor"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleEmployer, RoleEmployee, RoleAuditor:
		return true
	}
	return false
}

// EncryptedCredential is the portable, authenticated-encrypted credential
// bundle stored on an identity record. All fields are base64 encoded.
type EncryptedCredential struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Signature  string `json:"signature"`
}

// Equal compares all three fields byte-exactly.
func (c EncryptedCredential) Equal(other EncryptedCredential) bool {
	return c.Ciphertext == other.Ciphertext &&
		c.IV == other.IV &&
		c.Signature == other.Signature
}

// Zero reports whether the bundle is empty.
func (c EncryptedCredential) Zero() bool {
	return c.Ciphertext == "" && c.IV == "" && c.Signature == ""
}

// CredentialFile is the downloadable form of an encrypted credential,
// annotated with the owning identity and tag so client tooling can
// address it without decrypting.
type CredentialFile struct {
	EncryptedCredential
	IdentityID IdentityID `json:"identity_id"`
	Tag        Tag        `json:"identity_tag"`
}

// VoucherStatus is a payment voucher's persisted state. There are exactly
// two: redeemed is terminal and carries the settlement transaction id.
type VoucherStatus string

const (
	VoucherIssued   VoucherStatus = "issued"
	VoucherRedeemed VoucherStatus = "redeemed"
)

// PaymentVoucher records an amount owed to an identity. Amount and
// currency are immutable after issuance; the record is never deleted.
type PaymentVoucher struct {
	VoucherID      string        `json:"voucher_id"`
	Amount         float64       `json:"amount"`
	Currency       string        `json:"currency"`
	RunID          string        `json:"run_id,omitempty"`
	Status         VoucherStatus `json:"status"`
	Memo           string        `json:"memo,omitempty"`
	IssuedAt       time.Time     `json:"issued_at"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
	SettlementTxID string        `json:"settlement_txid,omitempty"`
}

// CredentialVoucherStatus is a credential-download voucher's state.
type CredentialVoucherStatus string

const (
	CredentialVoucherActive   CredentialVoucherStatus = "active"
	CredentialVoucherConsumed CredentialVoucherStatus = "consumed"
)

// CredentialVoucher authorizes a single, time-bound download of an
// identity's encrypted credential bundle. Only the one-way hash of the
// bearer token is persisted.
type CredentialVoucher struct {
	TokenHash    string                  `json:"token_hash"`
	CreatedAt    time.Time               `json:"created_at"`
	ExpiresAt    time.Time               `json:"expires_at"`
	Status       CredentialVoucherStatus `json:"status"`
	DownloadedAt *time.Time              `json:"downloaded_at,omitempty"`
}

// Profile holds fields that are opaque to the core.
type Profile struct {
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// IdentityRecord is the durable record of one recipient, employer, or
// auditor. PasswordHash, Nonce, and Credential never cross the trust
// boundary; see PublicIdentity.
type IdentityRecord struct {
	ID                 IdentityID          `json:"identity_id"`
	Username           string              `json:"username"`
	UsernameNormalized string              `json:"username_normalized"`
	PasswordHash       string              `json:"password_hash"`
	Tag                Tag                 `json:"identity_tag"`
	Nonce              Nonce               `json:"credential_nonce"`
	Credential         EncryptedCredential `json:"credential"`
	OrgID              string              `json:"org_id"`
	Role               Role                `json:"role"`
	Vouchers           []PaymentVoucher    `json:"vouchers"`
	CredentialVouchers []CredentialVoucher `json:"credential_vouchers"`
	Profile            Profile             `json:"profile"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Clone returns a deep copy so store callers can mutate safely.
func (r *IdentityRecord) Clone() *IdentityRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Vouchers = make([]PaymentVoucher, len(r.Vouchers))
	copy(out.Vouchers, r.Vouchers)
	out.CredentialVouchers = make([]CredentialVoucher, len(r.CredentialVouchers))
	copy(out.CredentialVouchers, r.CredentialVouchers)
	return &out
}

// Voucher returns the payment voucher with the given id, or nil.
func (r *IdentityRecord) Voucher(voucherID string) *PaymentVoucher {
	for i := range r.Vouchers {
		if r.Vouchers[i].VoucherID == voucherID {
			return &r.Vouchers[i]
		}
	}
	return nil
}

// PublicIdentity is the sanitized view of an identity record. It carries
// no password hash, no nonce, and no encrypted bundle.
type PublicIdentity struct {
	ID                 IdentityID          `json:"identity_id"`
	Username           string              `json:"username"`
	Tag                Tag                 `json:"identity_tag"`
	OrgID              string              `json:"org_id"`
	Role               Role                `json:"role"`
	Vouchers           []PaymentVoucher    `json:"vouchers"`
	CredentialVouchers []CredentialVoucher `json:"credential_vouchers"`
	Profile            Profile             `json:"profile"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// NormalizeUsername lowercases and trims a login name. Uniqueness is
// enforced over the normalized form.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Seed is the validated provisioning input for one identity.
type Seed struct {
	IdentityID    string  `json:"identity_id,omitempty"`
	Username      string  `json:"username,omitempty"`
	Name          string  `json:"name,omitempty"`
	Email         string  `json:"email,omitempty"`
	Role          Role    `json:"role,omitempty"`
	WalletAddress string  `json:"wallet_address,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Password      string  `json:"password,omitempty"`
	Nonce         string  `json:"credential_nonce,omitempty"`
}

// ProvisioningOutput carries the plaintext material emitted exactly once
// at provisioning time. It is never recoverable afterward; callers must
// capture and deliver it out-of-band.
type ProvisioningOutput struct {
	IdentityID        IdentityID     `json:"identity_id"`
	Username          string         `json:"username"`
	TemporaryPassword string         `json:"temporary_password"`
	Tag               Tag            `json:"identity_tag"`
	CredentialSecret  Nonce          `json:"credential_secret"`
	CredentialFile    CredentialFile `json:"credential_file"`
}
