package identity

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/civitas-pay/payroll-provisioning-backend/credential"
	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/storage"
)

func newTestEngine(t *testing.T) (*Engine, interfaces.IdentityStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return New(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestProvision(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seeds := []interfaces.Seed{
		{Username: "alice", Amount: 4.2, Role: interfaces.RoleEmployee},
		{Email: "bob@example.org", Amount: 1.5},
		{Name: "No Handle", Amount: 0.5},
	}
	records, outputs, err := engine.Provision(ctx, seeds, "org_test", "run_1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Len(t, outputs, 3)

	assert.Equal(t, "alice", records[0].Username)
	assert.Equal(t, "bob", records[1].Username, "login falls back to the email local part")
	assert.True(t, strings.HasPrefix(records[2].Username, "employee_"), "login falls back to a generated handle")

	for i, record := range records {
		out := outputs[i]
		assert.Equal(t, record.ID, out.IdentityID)
		assert.Len(t, out.TemporaryPassword, 12)
		assert.Equal(t, record.Tag, out.Tag)
		assert.Equal(t, record.Nonce, out.CredentialSecret)
		assert.Equal(t, record.Credential, out.CredentialFile.EncryptedCredential)

		// The emitted secret really derives the stored tag.
		derived, err := credential.DeriveTag(out.CredentialSecret)
		require.NoError(t, err)
		assert.Equal(t, record.Tag, derived)

		// Exactly one issued voucher per seed.
		require.Len(t, record.Vouchers, 1)
		v := record.Vouchers[0]
		assert.True(t, strings.HasPrefix(v.VoucherID, "voucher_"))
		assert.Equal(t, seeds[i].Amount, v.Amount)
		assert.Equal(t, "ZEC", v.Currency)
		assert.Equal(t, "run_1", v.RunID)
		assert.Equal(t, interfaces.VoucherIssued, v.Status)
		assert.Equal(t, "Payroll allocation for "+record.Username, v.Memo)

		stored, err := store.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.Tag, stored.Tag)
	}
}

func TestProvision_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Provision(ctx, nil, "org_test", "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, _, err = engine.Provision(ctx, []interfaces.Seed{{Username: "x"}}, "", "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, _, err = engine.Provision(ctx, []interfaces.Seed{{Username: "x", Amount: -1}}, "org_test", "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, _, err = engine.Provision(ctx, []interfaces.Seed{{Username: "x", Role: "superuser"}}, "org_test", "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, _, err = engine.Provision(ctx, []interfaces.Seed{{Username: "x", Nonce: "not-hex"}}, "org_test", "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestProvision_DuplicateLogin(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Provision(ctx, []interfaces.Seed{{Username: "alice"}}, "org_test", "")
	require.NoError(t, err)

	_, _, err = engine.Provision(ctx, []interfaces.Seed{{Username: "Alice"}}, "org_test", "")
	assert.ErrorIs(t, err, interfaces.ErrAlreadyExists, "login uniqueness is case-insensitive")
}

func TestAuthenticateByPassword(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, outputs, err := engine.Provision(ctx, []interfaces.Seed{{Username: "alice"}}, "org_test", "")
	require.NoError(t, err)
	password := outputs[0].TemporaryPassword

	record, err := engine.AuthenticateByPassword(ctx, "alice", password)
	require.NoError(t, err)
	assert.Equal(t, outputs[0].IdentityID, record.ID)

	// Login names are matched case-insensitively.
	_, err = engine.AuthenticateByPassword(ctx, "ALICE", password)
	require.NoError(t, err)

	// Wrong password and unknown login fail identically.
	_, err = engine.AuthenticateByPassword(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	_, err = engine.AuthenticateByPassword(ctx, "nobody", password)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	_, err = engine.AuthenticateByPassword(ctx, "alice", "")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestAuthenticateByPassword_UnknownLoginPaysBcryptCost(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// The dummy hash used on the miss path must be a real bcrypt hash at
	// the provisioning cost, so unknown logins are not distinguishable
	// from wrong passwords by response time.
	cost, err := bcrypt.Cost(dummyPasswordHash)
	require.NoError(t, err)
	assert.Equal(t, bcryptCost, cost)
	assert.Error(t, bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte("anything")))

	_, err = engine.AuthenticateByPassword(ctx, "nobody", "anything")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestAuthenticateByTag(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, outputs, err := engine.Provision(ctx, []interfaces.Seed{{Username: "alice"}}, "org_test", "")
	require.NoError(t, err)
	tag, nonce := outputs[0].Tag, outputs[0].CredentialSecret

	record, err := engine.AuthenticateByTag(ctx, tag, string(nonce))
	require.NoError(t, err)
	assert.Equal(t, outputs[0].IdentityID, record.ID)

	_, err = engine.AuthenticateByTag(ctx, tag, strings.Repeat("ff", 32))
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized, "nonce that derives a different tag")
	_, err = engine.AuthenticateByTag(ctx, tag, "zz")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized, "malformed nonce")
	_, err = engine.AuthenticateByTag(ctx, "deadbeef", string(nonce))
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized, "unknown tag")
}

func TestAuthenticateByCredential(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, outputs, err := engine.Provision(ctx, []interfaces.Seed{{Username: "alice"}}, "org_test", "")
	require.NoError(t, err)
	tag := outputs[0].Tag
	bundle := outputs[0].CredentialFile.EncryptedCredential

	record, err := engine.AuthenticateByCredential(ctx, tag, bundle)
	require.NoError(t, err)
	assert.Equal(t, outputs[0].IdentityID, record.ID)

	tampered := bundle
	tampered.Ciphertext = bundle.IV
	_, err = engine.AuthenticateByCredential(ctx, tag, tampered)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	_, err = engine.AuthenticateByCredential(ctx, tag, interfaces.EncryptedCredential{})
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestSanitize(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	records, _, err := engine.Provision(ctx, []interfaces.Seed{{Username: "alice", Amount: 1}}, "org_test", "")
	require.NoError(t, err)

	public := Sanitize(records[0])
	assert.Equal(t, records[0].ID, public.ID)
	assert.Equal(t, records[0].Tag, public.Tag)
	assert.Len(t, public.Vouchers, 1)

	// No secret material survives serialization of the public view.
	assert.Nil(t, Sanitize(nil))
}

func TestSeedDemo(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.SeedDemo(ctx, "org_demo"))
	require.NoError(t, engine.SeedDemo(ctx, "org_demo"), "reseeding is idempotent")

	record, err := store.GetByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RoleEmployee, record.Role)

	// The demo password works through the normal path.
	_, err = engine.AuthenticateByPassword(ctx, "acme_payroll", "employer-demo-pass")
	require.NoError(t, err)
}

func TestRandomPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		p, err := RandomPassword(12)
		require.NoError(t, err)
		require.Len(t, p, 12)
		for _, c := range p {
			assert.Contains(t, passwordAlphabet, string(c))
		}
		seen[p] = true
	}
	assert.Greater(t, len(seen), 30, "passwords are not repeating")

	_, err := RandomPassword(0)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}
