package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testIdentity() *interfaces.IdentityRecord {
	return &interfaces.IdentityRecord{
		ID:       "id-1",
		Username: "alice",
		Role:     interfaces.RoleEmployee,
		Tag:      "tag-1",
	}
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New([]byte("short"), time.Hour)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	gw, err := New(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := gw.Issue(testIdentity())
	require.NoError(t, err)

	claims, err := gw.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, interfaces.IdentityID("id-1"), claims.IdentityID())
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, interfaces.RoleEmployee, claims.Role)
	assert.Equal(t, interfaces.Tag("tag-1"), claims.Tag)
}

func TestVerify_UniformFailures(t *testing.T) {
	gw, err := New(testSecret, time.Hour)
	require.NoError(t, err)

	t.Run("Malformed", func(t *testing.T) {
		_, err := gw.Verify("not-a-token")
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := New([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
		require.NoError(t, err)
		token, err := other.Issue(testIdentity())
		require.NoError(t, err)

		_, err = gw.Verify(token)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	})

	t.Run("Expired", func(t *testing.T) {
		expired, err := New(testSecret, time.Nanosecond)
		require.NoError(t, err)
		token, err := expired.Issue(testIdentity())
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		_, err = gw.Verify(token)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	})
}

func TestRequireRole(t *testing.T) {
	claims := &Claims{Role: interfaces.RoleEmployer}
	assert.NoError(t, claims.RequireRole(interfaces.RoleEmployer))
	assert.NoError(t, claims.RequireRole(interfaces.RoleEmployer, interfaces.RoleAuditor))
	assert.ErrorIs(t, claims.RequireRole(interfaces.RoleEmployee), interfaces.ErrUnauthorized)
}
