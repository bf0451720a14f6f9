// Package credential implements the credential codec: derivation of the
// public identity tag from a private nonce, and authenticated encryption
// of the portable credential bundle under a key derived from that same
// nonce.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// Payload is the plaintext credential content. It proves enrollment of an
// identity within an organization; the core never needs to decrypt it,
// only the nonce holder's client tooling does.
type Payload struct {
	IdentityID interfaces.IdentityID `json:"identity_id"`
	Username   string                `json:"username"`
	Tag        interfaces.Tag        `json:"identity_tag"`
	OrgID      string                `json:"org_id"`
	IssuedAt   time.Time             `json:"issued_at"`
}

// DeriveTag computes the public tag for a nonce: Keccak256 over the
// nonce's 32-byte big-endian integer value, hex encoded. Deterministic
// and one-way; distinct nonces collide only with negligible probability.
func DeriveTag(nonce interfaces.Nonce) (interfaces.Tag, error) {
	value, err := nonce.Bytes32()
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}
	digest := crypto.Keccak256Hash(value[:])
	return interfaces.Tag(digest.Hex()[2:]), nil
}

// deriveKey returns the AES-256 key for a nonce: its zero-padded 32-byte
// integer value. The tag and the key share one secret on purpose, so
// possession of the nonce is the single credential-holder capability.
func deriveKey(nonce interfaces.Nonce) ([32]byte, error) {
	value, err := nonce.Bytes32()
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}
	return value, nil
}

// Encrypt serializes the payload to JSON and encrypts it with AES-256-GCM
// under the nonce-derived key. A fresh random 12-byte IV is generated per
// call. The signature is an HMAC-SHA256 over the ciphertext keyed by the
// same derived key, binding the ciphertext to the nonce so a bundle
// cannot be replayed against a different identity.
func Encrypt(payload Payload, nonce interfaces.Nonce) (interfaces.EncryptedCredential, error) {
	key, err := deriveKey(nonce)
	if err != nil {
		return interfaces.EncryptedCredential{}, err
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return interfaces.EncryptedCredential{}, fmt.Errorf("failed to serialize credential payload: %w", err)
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return interfaces.EncryptedCredential{}, err
	}

	iv := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return interfaces.EncryptedCredential{}, fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext := aesGCM.Seal(nil, iv, plaintext, nil)

	return interfaces.EncryptedCredential{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Signature:  base64.StdEncoding.EncodeToString(sign(ciphertext, key)),
	}, nil
}

// Decrypt opens a bundle with the nonce-derived key and checks the
// signature. The server never calls this on the redemption path; it
// exists for the client tooling that holds the nonce.
func Decrypt(bundle interfaces.EncryptedCredential, nonce interfaces.Nonce) (Payload, error) {
	key, err := deriveKey(nonce)
	if err != nil {
		return Payload{}, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(bundle.Ciphertext)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: malformed ciphertext encoding", interfaces.ErrValidation)
	}
	iv, err := base64.StdEncoding.DecodeString(bundle.IV)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: malformed IV encoding", interfaces.ErrValidation)
	}
	signature, err := base64.StdEncoding.DecodeString(bundle.Signature)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: malformed signature encoding", interfaces.ErrValidation)
	}

	if !hmac.Equal(signature, sign(ciphertext, key)) {
		return Payload{}, fmt.Errorf("%w: credential signature mismatch", interfaces.ErrUnauthorized)
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return Payload{}, err
	}

	plaintext, err := aesGCM.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: credential decryption failed", interfaces.ErrUnauthorized)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return Payload{}, fmt.Errorf("failed to parse credential payload: %w", err)
	}
	return payload, nil
}

// Verify compares a candidate bundle against the stored one. Byte-exact
// equality of all three fields, in constant time; no decryption happens
// on this path.
func Verify(stored, candidate interfaces.EncryptedCredential) bool {
	match := subtle.ConstantTimeCompare([]byte(stored.Ciphertext), []byte(candidate.Ciphertext))
	match &= subtle.ConstantTimeCompare([]byte(stored.IV), []byte(candidate.IV))
	match &= subtle.ConstantTimeCompare([]byte(stored.Signature), []byte(candidate.Signature))
	return match == 1
}

func sign(ciphertext []byte, key [32]byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// newGCM builds the AEAD. A failure here means the cryptographic
// primitive itself is unusable and surfaces as a configuration error.
func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: AES unavailable: %v", interfaces.ErrConfiguration, err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: GCM unavailable: %v", interfaces.ErrConfiguration, err)
	}
	return aesGCM, nil
}
