package db

import (
	"context"
	"time"
)

const createPayment = `
INSERT INTO payments (id, user_id, amount, days, method, status, expires_at)
VALUES (?, ?, ?, ?, ?, 'pending', ?)
RETURNING id, user_id, amount, days, method, status, proof, admin_comment, created_at, expires_at, updated_at
`

type CreatePaymentParams struct {
	ID        string
	UserID    int64
	Amount    float64
	Days      int64
	Method    string
	ExpiresAt time.Time
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRowContext(ctx, createPayment,
		arg.ID, arg.UserID, arg.Amount, arg.Days, arg.Method, arg.ExpiresAt)
	return scanPayment(row)
}

const getPayment = `
SELECT id, user_id, amount, days, method, status, proof, admin_comment, created_at, expires_at, updated_at
FROM payments
WHERE id = ?
`

func (q *Queries) GetPayment(ctx context.Context, id string) (Payment, error) {
	return scanPayment(q.db.QueryRowContext(ctx, getPayment, id))
}

const transitionPaymentStatus = `
UPDATE payments
SET status = ?,
    admin_comment = COALESCE(NULLIF(?, ''), admin_comment),
    updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?
`

type TransitionPaymentStatusParams struct {
	ID           string
	ToStatus     string
	FromStatus   string
	AdminComment string
}

// TransitionPaymentStatus moves a payment between states atomically. The
// update only applies when the payment is still in FromStatus; the
// returned count is 0 when another writer got there first. An empty
// AdminComment leaves any earlier comment in place.
func (q *Queries) TransitionPaymentStatus(ctx context.Context, arg TransitionPaymentStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, transitionPaymentStatus,
		arg.ToStatus, arg.AdminComment, arg.ID, arg.FromStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const attachPaymentProof = `
UPDATE payments
SET proof = ?, status = 'paid', updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'pending'
`

type AttachPaymentProofParams struct {
	ID    string
	Proof string
}

// AttachPaymentProof records the user's proof of payment and moves the
// payment to 'paid' in the same statement. No-op when the payment already
// left 'pending'.
func (q *Queries) AttachPaymentProof(ctx context.Context, arg AttachPaymentProofParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, attachPaymentProof, arg.Proof, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listStalePayments = `
SELECT id, user_id, amount, days, method, status, proof, admin_comment, created_at, expires_at, updated_at
FROM payments
WHERE status = 'pending' AND expires_at <= ?
ORDER BY expires_at
`

// ListStalePayments returns pending payments whose window has closed.
func (q *Queries) ListStalePayments(ctx context.Context, cutoff time.Time) ([]Payment, error) {
	rows, err := q.db.QueryContext(ctx, listStalePayments, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.Days, &p.Method, &p.Status,
			&p.Proof, &p.AdminComment, &p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

const listPaymentsByUser = `
SELECT id, user_id, amount, days, method, status, proof, admin_comment, created_at, expires_at, updated_at
FROM payments
WHERE user_id = ?
ORDER BY created_at DESC
`

func (q *Queries) ListPaymentsByUser(ctx context.Context, userID int64) ([]Payment, error) {
	rows, err := q.db.QueryContext(ctx, listPaymentsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.Days, &p.Method, &p.Status,
			&p.Proof, &p.AdminComment, &p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.Days, &p.Method, &p.Status,
		&p.Proof, &p.AdminComment, &p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt)
	return p, err
}
