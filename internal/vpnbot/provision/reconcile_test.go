package provision

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xam55/new-vpn-bot/internal/vpnbot/db"
)

// seedPendingKey writes a provisional record directly, simulating an
// attempt that died before resolving.
func seedPendingKey(t *testing.T, env *testEnv, paymentID, publicKey, address string) db.VpnKey {
	t.Helper()
	p := env.seedConfirmedPayment(t, paymentID, 7)
	record, err := env.store.CreateVpnKey(context.Background(), db.CreateVpnKeyParams{
		PaymentID:     p.ID,
		UserID:        p.UserID,
		KeyName:       "user42_1756600000_" + paymentID[len(paymentID)-6:],
		PublicKey:     publicKey,
		ClientAddress: address,
		ExpiresAt:     time.Now().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return record
}

func TestReconcilePromotesPendingWithLivePeer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// Past-dated window so freshly written records count as stale.
	env.svc.config.PendingTimeout = -time.Minute

	record := seedPendingKey(t, env, "PAY-20260831-RECA01", "pk-live-peer", "10.0.0.2")
	env.gw.peers[record.PublicKey] = record.ClientAddress

	report, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Promoted)
	assert.Zero(t, report.Discarded)
	assert.Zero(t, report.OrphansRemoved)

	promoted, err := env.store.GetVpnKey(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, db.KeyStatusActive, promoted.Status)

	// The peer stays; the record now claims it.
	assert.Contains(t, env.gw.peers, record.PublicKey)
}

func TestReconcileDiscardsPendingWithoutPeer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.config.PendingTimeout = -time.Minute

	record := seedPendingKey(t, env, "PAY-20260831-RECB02", "pk-no-peer", "10.0.0.3")

	report, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Discarded)
	assert.Zero(t, report.Promoted)

	_, err = env.store.GetVpnKey(ctx, record.ID)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestReconcileRemovesOrphanPeers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A peer nobody recorded, and a peer backing a revoked record that
	// somehow survived on the gateway.
	env.gw.peers["pk-unrecorded"] = "10.0.0.9"

	p := env.seedConfirmedPayment(t, "PAY-20260831-RECC03", 7)
	record, err := env.store.CreateVpnKey(ctx, db.CreateVpnKeyParams{
		PaymentID: p.ID, UserID: p.UserID,
		KeyName: "user42_1756600001_recc03", PublicKey: "pk-revoked",
		ClientAddress: "10.0.0.4", ExpiresAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = env.store.ActivateVpnKey(ctx, db.ActivateVpnKeyParams{ID: record.ID, Config: "c"})
	require.NoError(t, err)
	_, err = env.store.TransitionVpnKeyStatus(ctx, db.TransitionVpnKeyStatusParams{
		ID: record.ID, ToStatus: db.KeyStatusRevoked, FromStatus: db.KeyStatusActive,
	})
	require.NoError(t, err)
	env.gw.peers["pk-revoked"] = "10.0.0.4"

	report, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrphansRemoved)
	assert.Empty(t, env.gw.peers)
}

func TestReconcileLeavesHealthyStateAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seedConfirmedPayment(t, "PAY-20260831-RECD04", 7)

	result, err := env.svc.Issue(ctx, IssueRequest{UserID: p.UserID, PaymentID: p.ID, Days: 7})
	require.NoError(t, err)

	report, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Promoted)
	assert.Zero(t, report.Discarded)
	assert.Zero(t, report.OrphansRemoved)

	record, err := env.store.GetVpnKeyByName(ctx, result.KeyName)
	require.NoError(t, err)
	assert.Equal(t, db.KeyStatusActive, record.Status)
	assert.Len(t, env.gw.peers, 1)
}

func TestReconcileFreshPendingIsLeftAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// Normal window: a record written moments ago is not yet stale.
	env.svc.config.PendingTimeout = 15 * time.Minute

	record := seedPendingKey(t, env, "PAY-20260831-RECE05", "pk-fresh", "10.0.0.5")

	report, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Promoted)
	assert.Zero(t, report.Discarded)

	still, err := env.store.GetVpnKey(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, db.KeyStatusPending, still.Status)
}
