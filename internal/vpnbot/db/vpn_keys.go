package db

import (
	"context"
	"time"
)

const vpnKeyColumns = `id, payment_id, user_id, key_name, public_key, client_address, config, status, created_at, expires_at, updated_at`

const createVpnKey = `
INSERT INTO vpn_keys (payment_id, user_id, key_name, public_key, client_address, status, expires_at)
VALUES (?, ?, ?, ?, ?, 'pending', ?)
RETURNING ` + vpnKeyColumns

type CreateVpnKeyParams struct {
	PaymentID     string
	UserID        int64
	KeyName       string
	PublicKey     string
	ClientAddress string
	ExpiresAt     time.Time
}

// CreateVpnKey writes the provisional record for a provisioning attempt.
// The row starts 'pending' and is promoted only after the gateway
// acknowledges the peer. The unique payment_id constraint rejects a second
// attempt for the same payment.
func (q *Queries) CreateVpnKey(ctx context.Context, arg CreateVpnKeyParams) (VpnKey, error) {
	row := q.db.QueryRowContext(ctx, createVpnKey,
		arg.PaymentID, arg.UserID, arg.KeyName, arg.PublicKey, arg.ClientAddress, arg.ExpiresAt)
	return scanVpnKey(row)
}

const activateVpnKey = `
UPDATE vpn_keys
SET status = 'active', config = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'pending'
`

type ActivateVpnKeyParams struct {
	ID     int64
	Config string
}

// ActivateVpnKey promotes a provisional record after the gateway accepted
// the peer, storing the rendered client config alongside.
func (q *Queries) ActivateVpnKey(ctx context.Context, arg ActivateVpnKeyParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, activateVpnKey, arg.Config, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const transitionVpnKeyStatus = `
UPDATE vpn_keys
SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?
`

type TransitionVpnKeyStatusParams struct {
	ID         int64
	ToStatus   string
	FromStatus string
}

func (q *Queries) TransitionVpnKeyStatus(ctx context.Context, arg TransitionVpnKeyStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, transitionVpnKeyStatus, arg.ToStatus, arg.ID, arg.FromStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteVpnKey = `
DELETE FROM vpn_keys
WHERE id = ? AND status = 'pending'
`

// DeleteVpnKey removes a provisional record after a clean rollback. Only
// 'pending' rows may be deleted; promoted keys are revoked, not erased.
func (q *Queries) DeleteVpnKey(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteVpnKey, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getVpnKey = `
SELECT ` + vpnKeyColumns + `
FROM vpn_keys
WHERE id = ?
`

func (q *Queries) GetVpnKey(ctx context.Context, id int64) (VpnKey, error) {
	return scanVpnKey(q.db.QueryRowContext(ctx, getVpnKey, id))
}

const getVpnKeyByPaymentID = `
SELECT ` + vpnKeyColumns + `
FROM vpn_keys
WHERE payment_id = ?
`

func (q *Queries) GetVpnKeyByPaymentID(ctx context.Context, paymentID string) (VpnKey, error) {
	return scanVpnKey(q.db.QueryRowContext(ctx, getVpnKeyByPaymentID, paymentID))
}

const getVpnKeyByPublicKey = `
SELECT ` + vpnKeyColumns + `
FROM vpn_keys
WHERE public_key = ?
`

func (q *Queries) GetVpnKeyByPublicKey(ctx context.Context, publicKey string) (VpnKey, error) {
	return scanVpnKey(q.db.QueryRowContext(ctx, getVpnKeyByPublicKey, publicKey))
}

const getVpnKeyByName = `
SELECT ` + vpnKeyColumns + `
FROM vpn_keys
WHERE key_name = ?
`

func (q *Queries) GetVpnKeyByName(ctx context.Context, keyName string) (VpnKey, error) {
	return scanVpnKey(q.db.QueryRowContext(ctx, getVpnKeyByName, keyName))
}

const listExpiredActiveKeys = `
SELECT ` + vpnKeyColumns + `
FROM vpn_keys
WHERE status = 'active' AND expires_at <= ?
ORDER BY expires_at
`

// ListExpiredActiveKeys returns active keys whose paid period has ended.
func (q *Queries) ListExpiredActiveKeys(ctx context.Context, cutoff time.Time) ([]VpnKey, error) {
	return q.listVpnKeys(ctx, listExpiredActiveKeys, cutoff)
}

const listStalePendingKeys = `
SELECT ` + vpnKeyColumns + `
FROM vpn_keys
WHERE status = 'pending' AND created_at <= ?
ORDER BY created_at
`

// ListStalePendingKeys returns provisional records older than the cutoff.
// These mark provisioning attempts that neither committed nor rolled back.
func (q *Queries) ListStalePendingKeys(ctx context.Context, cutoff time.Time) ([]VpnKey, error) {
	return q.listVpnKeys(ctx, listStalePendingKeys, cutoff)
}

const listActiveKeysByUser = `
SELECT ` + vpnKeyColumns + `
FROM vpn_keys
WHERE user_id = ? AND status = 'active'
ORDER BY created_at DESC
`

func (q *Queries) ListActiveKeysByUser(ctx context.Context, userID int64) ([]VpnKey, error) {
	return q.listVpnKeys(ctx, listActiveKeysByUser, userID)
}

func (q *Queries) listVpnKeys(ctx context.Context, query string, arg interface{}) ([]VpnKey, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []VpnKey
	for rows.Next() {
		var k VpnKey
		if err := rows.Scan(&k.ID, &k.PaymentID, &k.UserID, &k.KeyName, &k.PublicKey,
			&k.ClientAddress, &k.Config, &k.Status, &k.CreatedAt, &k.ExpiresAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanVpnKey(row rowScanner) (VpnKey, error) {
	var k VpnKey
	err := row.Scan(&k.ID, &k.PaymentID, &k.UserID, &k.KeyName, &k.PublicKey,
		&k.ClientAddress, &k.Config, &k.Status, &k.CreatedAt, &k.ExpiresAt, &k.UpdatedAt)
	return k, err
}
