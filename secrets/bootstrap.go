// Package secrets bootstraps the server's master secret. The secret
// signs session tokens and exists only in memory; at startup it is
// either supplied directly as hex or reconstructed from a quorum of
// Shamir shares handed out at split time.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/vault/shamir"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// MasterSecretLen is the byte length of a generated master secret.
const MasterSecretLen = 32

// GenerateMaster creates a fresh random master secret.
func GenerateMaster() ([]byte, error) {
	secret := make([]byte, MasterSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("%w: randomness unavailable: %v", interfaces.ErrConfiguration, err)
	}
	return secret, nil
}

// Split divides a master secret into total shares of which threshold are
// required to reconstruct it. The caller distributes the shares and
// erases the original.
func Split(secret []byte, total, threshold int) ([][]byte, error) {
	if len(secret) < MasterSecretLen {
		return nil, fmt.Errorf("%w: master secret must be at least %d bytes", interfaces.ErrConfiguration, MasterSecretLen)
	}
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold must be at least 2", interfaces.ErrConfiguration)
	}
	if total < threshold {
		return nil, fmt.Errorf("%w: total shares must be at least the threshold", interfaces.ErrConfiguration)
	}
	shares, err := shamir.Split(secret, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master secret: %w", err)
	}
	return shares, nil
}

// Bootstrap resolves the master secret from startup configuration:
// a hex-encoded secret wins when present, otherwise the hex-encoded
// shares are combined. Supplying neither is a configuration error.
func Bootstrap(secretHex string, shareHexes []string) ([]byte, error) {
	if secretHex != "" {
		secret, err := hex.DecodeString(secretHex)
		if err != nil {
			return nil, fmt.Errorf("%w: master secret is not valid hex", interfaces.ErrConfiguration)
		}
		if len(secret) < MasterSecretLen {
			return nil, fmt.Errorf("%w: master secret must be at least %d bytes", interfaces.ErrConfiguration, MasterSecretLen)
		}
		return secret, nil
	}

	if len(shareHexes) < 2 {
		return nil, fmt.Errorf("%w: need a master secret or at least 2 shares", interfaces.ErrConfiguration)
	}

	shares := make([][]byte, 0, len(shareHexes))
	for i, sh := range shareHexes {
		raw, err := hex.DecodeString(sh)
		if err != nil {
			return nil, fmt.Errorf("%w: share %d is not valid hex", interfaces.ErrConfiguration, i)
		}
		shares = append(shares, raw)
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to combine shares: %v", interfaces.ErrConfiguration, err)
	}
	if len(secret) < MasterSecretLen {
		return nil, fmt.Errorf("%w: combined secret is too short", interfaces.ErrConfiguration)
	}
	return secret, nil
}
