package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(i int) *interfaces.IdentityRecord {
	now := time.Now().UTC()
	username := fmt.Sprintf("user%d", i)
	return &interfaces.IdentityRecord{
		ID:                 interfaces.IdentityID(fmt.Sprintf("id-%d", i)),
		Username:           username,
		UsernameNormalized: interfaces.NormalizeUsername(username),
		PasswordHash:       "x",
		Tag:                interfaces.Tag(fmt.Sprintf("tag-%d", i)),
		Nonce:              "abcdef",
		Role:               interfaces.RoleEmployee,
		OrgID:              "org1",
		Vouchers: []interfaces.PaymentVoucher{{
			VoucherID: fmt.Sprintf("voucher-%d", i),
			Amount:    100,
			Currency:  "ZEC",
			Status:    interfaces.VoucherIssued,
			IssuedAt:  now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// storeUnderTest runs the contract suite against any IdentityStore.
func runStoreContract(t *testing.T, newStore func(t *testing.T) interfaces.IdentityStore) {
	ctx := context.Background()

	t.Run("GetMissesReturnNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		_, err = store.GetByLogin(ctx, "nope")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		_, err = store.GetByTag(ctx, "nope")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("CreateAndLookup", func(t *testing.T) {
		store := newStore(t)
		record := testRecord(1)
		require.NoError(t, store.Create(ctx, record))

		byID, err := store.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.Username, byID.Username)

		byLogin, err := store.GetByLogin(ctx, "USER1")
		require.NoError(t, err)
		assert.Equal(t, record.ID, byLogin.ID)

		byTag, err := store.GetByTag(ctx, record.Tag)
		require.NoError(t, err)
		assert.Equal(t, record.ID, byTag.ID)
	})

	t.Run("CreateEnforcesUniqueness", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, testRecord(1)))

		dupLogin := testRecord(2)
		dupLogin.Username = "User1"
		dupLogin.UsernameNormalized = "user1"
		assert.ErrorIs(t, store.Create(ctx, dupLogin), interfaces.ErrAlreadyExists)

		dupTag := testRecord(3)
		dupTag.Tag = "tag-1"
		assert.ErrorIs(t, store.Create(ctx, dupTag), interfaces.ErrAlreadyExists)
	})

	t.Run("GetReturnsCopies", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, testRecord(1)))

		got, err := store.Get(ctx, "id-1")
		require.NoError(t, err)
		got.Vouchers[0].Status = interfaces.VoucherRedeemed

		again, err := store.Get(ctx, "id-1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.VoucherIssued, again.Vouchers[0].Status)
	})

	t.Run("UpdateMutateErrorWritesNothing", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, testRecord(1)))

		_, err := store.Update(ctx, "id-1", func(r *interfaces.IdentityRecord) error {
			r.Vouchers[0].Status = interfaces.VoucherRedeemed
			return interfaces.ErrConflict
		})
		assert.ErrorIs(t, err, interfaces.ErrConflict)

		got, err := store.Get(ctx, "id-1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.VoucherIssued, got.Vouchers[0].Status)
	})

	t.Run("UpdateIsCheckAndSet", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, testRecord(1)))

		// N concurrent transitions: exactly one must observe "issued".
		const n = 16
		var wg sync.WaitGroup
		successes := make(chan struct{}, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "id-1", func(r *interfaces.IdentityRecord) error {
					v := r.Voucher("voucher-1")
					if v.Status != interfaces.VoucherIssued {
						return interfaces.ErrConflict
					}
					v.Status = interfaces.VoucherRedeemed
					return nil
				})
				if err == nil {
					successes <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(successes)

		count := 0
		for range successes {
			count++
		}
		assert.Equal(t, 1, count)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) interfaces.IdentityStore {
		return NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) interfaces.IdentityStore {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "identities.json"), testLogger())
		require.NoError(t, err)
		return store
	})
}

func TestFileStore_Reload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identities.json")

	store, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, testRecord(1)))
	require.NoError(t, store.Create(ctx, testRecord(2)))

	_, err = store.Update(ctx, "id-1", func(r *interfaces.IdentityRecord) error {
		r.Vouchers[0].Status = interfaces.VoucherRedeemed
		r.Vouchers[0].SettlementTxID = "tx-1"
		return nil
	})
	require.NoError(t, err)

	reloaded, err := NewFileStore(path, testLogger())
	require.NoError(t, err)

	records, err := reloaded.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	got, err := reloaded.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.VoucherRedeemed, got.Vouchers[0].Status)
	assert.Equal(t, "tx-1", got.Vouchers[0].SettlementTxID)
}

func TestStoreFactory(t *testing.T) {
	factory := NewStoreFactory(testLogger())

	t.Run("Memory", func(t *testing.T) {
		store, err := factory.StoreFor("memory://")
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("File", func(t *testing.T) {
		store, err := factory.StoreFor("file://" + filepath.Join(t.TempDir(), "identities.json"))
		require.NoError(t, err)
		assert.IsType(t, &DocumentStore{}, store)
	})

	t.Run("S3RequiresCredentials", func(t *testing.T) {
		_, err := factory.StoreFor("s3://bucket/identities.json")
		assert.ErrorIs(t, err, interfaces.ErrConfiguration)
	})

	t.Run("VaultRequiresToken", func(t *testing.T) {
		_, err := factory.StoreFor("vault://vault.example.com:8200/secret/payroll")
		assert.ErrorIs(t, err, interfaces.ErrConfiguration)
	})

	t.Run("UnknownScheme", func(t *testing.T) {
		_, err := factory.StoreFor("redis://localhost")
		assert.ErrorIs(t, err, interfaces.ErrConfiguration)
	})
}
