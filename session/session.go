// Package session issues and verifies the short-lived bearer tokens that
// bind a caller to an identity and role. Tokens are self-contained HS256
// JWTs; nothing is persisted.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// CookieName is the session cookie consumed by the API handlers.
const CookieName = "payroll_session"

// DefaultTTL is the token lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// Claims is the signed claim set carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	Username string          `json:"username"`
	Role     interfaces.Role `json:"role"`
	Tag      interfaces.Tag  `json:"identity_tag,omitempty"`
}

// IdentityID returns the token subject as an identity id.
func (c *Claims) IdentityID() interfaces.IdentityID {
	return interfaces.IdentityID(c.Subject)
}

// Gateway signs and verifies session tokens with a server-held secret.
type Gateway struct {
	secret []byte
	ttl    time.Duration
}

// New creates a gateway. The signing secret must be at least 32 bytes;
// anything shorter is a configuration error.
func New(secret []byte, ttl time.Duration) (*Gateway, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("%w: session signing secret must be at least 32 bytes", interfaces.ErrConfiguration)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gateway{secret: secret, ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (g *Gateway) TTL() time.Duration { return g.ttl }

// Issue produces a signed token for the given identity.
func (g *Gateway) Issue(record *interfaces.IdentityRecord) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   record.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
		Username: record.Username,
		Role:     record.Role,
		Tag:      record.Tag,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry. Any failure, whether expired,
// tampered, malformed, or a wrong algorithm, comes back as the uniform
// unauthorized error without distinguishing the cause.
func (g *Gateway) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, interfaces.ErrUnauthorized
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, interfaces.ErrUnauthorized
	}
	return claims, nil
}

// RequireRole returns nil when the claims carry one of the wanted roles.
func (c *Claims) RequireRole(roles ...interfaces.Role) error {
	for _, role := range roles {
		if c.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role not permitted", interfaces.ErrUnauthorized)
}
