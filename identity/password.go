package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// passwordAlphabet omits ambiguous characters (I, l, O, 0, 1).
const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789@#$!"

// RandomPassword generates an n-character temporary password with
// unbiased, cryptographic sampling of passwordAlphabet.
func RandomPassword(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: password length must be positive", interfaces.ErrValidation)
	}
	out := make([]byte, n)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("%w: randomness unavailable: %v", interfaces.ErrConfiguration, err)
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
