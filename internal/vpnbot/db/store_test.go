package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserGetOrCreate(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()

	first, err := store.CreateUser(ctx, CreateUserParams{TelegramID: 42, Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), first.TelegramID)

	// Same telegram id again: same row, refreshed username.
	second, err := store.CreateUser(ctx, CreateUserParams{TelegramID: 42, Username: "alice_v2"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice_v2", second.Username)

	fetched, err := store.GetUserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, fetched.ID)
}

func TestPaymentLifecycle(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()
	user := SeedTestUser(t, store, 42)

	payment := SeedTestPayment(t, store, "PAY-20260831-AAAA1111", user.ID, 7)
	assert.Equal(t, PaymentStatusPending, payment.Status)
	assert.Equal(t, int64(7), payment.Days)
	assert.Equal(t, float64(70), payment.Amount)

	// Proof submission moves pending -> paid.
	n, err := store.AttachPaymentProof(ctx, AttachPaymentProofParams{
		ID: payment.ID, Proof: "receipt-123",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Confirmation is guarded on the current status.
	n, err = store.TransitionPaymentStatus(ctx, TransitionPaymentStatusParams{
		ID: payment.ID, ToStatus: PaymentStatusConfirmed, FromStatus: PaymentStatusPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A second confirmation finds no row in 'paid' anymore.
	n, err = store.TransitionPaymentStatus(ctx, TransitionPaymentStatusParams{
		ID: payment.ID, ToStatus: PaymentStatusConfirmed, FromStatus: PaymentStatusPaid,
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	fetched, err := store.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusConfirmed, fetched.Status)
	assert.Equal(t, "receipt-123", fetched.Proof)
}

func TestAttachProofOnlyWhilePending(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()
	user := SeedTestUser(t, store, 42)
	payment := SeedTestPayment(t, store, "PAY-20260831-BBBB2222", user.ID, 1)

	_, err := store.TransitionPaymentStatus(ctx, TransitionPaymentStatusParams{
		ID: payment.ID, ToStatus: PaymentStatusCancelled, FromStatus: PaymentStatusPending,
	})
	require.NoError(t, err)

	n, err := store.AttachPaymentProof(ctx, AttachPaymentProofParams{
		ID: payment.ID, Proof: "late-receipt",
	})
	require.NoError(t, err)
	assert.Zero(t, n, "cancelled payment must not accept proof")
}

func TestListStalePayments(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()
	user := SeedTestUser(t, store, 42)

	stale, err := store.CreatePayment(ctx, CreatePaymentParams{
		ID: "PAY-20260831-CCCC3333", UserID: user.ID, Amount: 10, Days: 1,
		Method: "card", ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	SeedTestPayment(t, store, "PAY-20260831-DDDD4444", user.ID, 1) // still fresh

	payments, err := store.ListStalePayments(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, stale.ID, payments[0].ID)
}

func TestVpnKeyLifecycle(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()
	user := SeedTestUser(t, store, 42)
	payment := SeedTestPayment(t, store, "PAY-20260831-EEEE5555", user.ID, 30)

	key, err := store.CreateVpnKey(ctx, CreateVpnKeyParams{
		PaymentID:     payment.ID,
		UserID:        user.ID,
		KeyName:       "user42_1756600000_abc123",
		PublicKey:     "test-public-key",
		ClientAddress: "10.0.0.2",
		ExpiresAt:     time.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, KeyStatusPending, key.Status)
	assert.Empty(t, key.Config)

	// A second provisional record for the same payment is rejected.
	_, err = store.CreateVpnKey(ctx, CreateVpnKeyParams{
		PaymentID:     payment.ID,
		UserID:        user.ID,
		KeyName:       "user42_1756600001_def456",
		PublicKey:     "other-public-key",
		ClientAddress: "10.0.0.3",
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	})
	require.Error(t, err)

	// Promotion stores the rendered config.
	n, err := store.ActivateVpnKey(ctx, ActivateVpnKeyParams{ID: key.ID, Config: "[Interface]..."})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := store.GetVpnKeyByPaymentID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, KeyStatusActive, active.Status)
	assert.Equal(t, "[Interface]...", active.Config)

	byName, err := store.GetVpnKeyByName(ctx, key.KeyName)
	require.NoError(t, err)
	assert.Equal(t, key.ID, byName.ID)

	activeKeys, err := store.ListActiveKeysByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, activeKeys, 1)

	// Revocation is status-guarded like payment transitions.
	n, err = store.TransitionVpnKeyStatus(ctx, TransitionVpnKeyStatusParams{
		ID: key.ID, ToStatus: KeyStatusRevoked, FromStatus: KeyStatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.TransitionVpnKeyStatus(ctx, TransitionVpnKeyStatusParams{
		ID: key.ID, ToStatus: KeyStatusRevoked, FromStatus: KeyStatusActive,
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteVpnKeyOnlyPending(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()
	user := SeedTestUser(t, store, 42)
	payment := SeedTestPayment(t, store, "PAY-20260831-FFFF6666", user.ID, 1)

	key, err := store.CreateVpnKey(ctx, CreateVpnKeyParams{
		PaymentID: payment.ID, UserID: user.ID,
		KeyName: "user42_1756600002_ghi789", PublicKey: "pk-1",
		ClientAddress: "10.0.0.4", ExpiresAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	n, err := store.DeleteVpnKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetVpnKey(ctx, key.ID)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestExpiryQueries(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()
	user := SeedTestUser(t, store, 42)

	p1 := SeedTestPayment(t, store, "PAY-20260831-1111AAAA", user.ID, 1)
	p2 := SeedTestPayment(t, store, "PAY-20260831-2222BBBB", user.ID, 30)

	expired, err := store.CreateVpnKey(ctx, CreateVpnKeyParams{
		PaymentID: p1.ID, UserID: user.ID,
		KeyName: "user42_1756600003_aaa111", PublicKey: "pk-expired",
		ClientAddress: "10.0.0.5", ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = store.ActivateVpnKey(ctx, ActivateVpnKeyParams{ID: expired.ID, Config: "c"})
	require.NoError(t, err)

	fresh, err := store.CreateVpnKey(ctx, CreateVpnKeyParams{
		PaymentID: p2.ID, UserID: user.ID,
		KeyName: "user42_1756600004_bbb222", PublicKey: "pk-fresh",
		ClientAddress: "10.0.0.6", ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.ActivateVpnKey(ctx, ActivateVpnKeyParams{ID: fresh.ID, Config: "c"})
	require.NoError(t, err)

	keys, err := store.ListExpiredActiveKeys(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, expired.ID, keys[0].ID)

	// No row is pending, so the stale scan is empty.
	pending, err := store.ListStalePendingKeys(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExecTxRollsBack(t *testing.T) {
	_, store := NewTestDB(t)
	ctx := context.Background()
	user := SeedTestUser(t, store, 42)

	boom := errors.New("boom")
	err := store.ExecTx(ctx, func(q *Queries) error {
		if _, err := q.CreatePayment(ctx, CreatePaymentParams{
			ID: "PAY-20260831-ROLLBACK", UserID: user.ID, Amount: 10, Days: 1,
			Method: "card", ExpiresAt: time.Now().Add(time.Minute),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetPayment(ctx, "PAY-20260831-ROLLBACK")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
