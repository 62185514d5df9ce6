package db

import (
	"context"
	"time"
)

// Querier lists every query the store supports.
type Querier interface {
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (User, error)

	CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
	TransitionPaymentStatus(ctx context.Context, arg TransitionPaymentStatusParams) (int64, error)
	AttachPaymentProof(ctx context.Context, arg AttachPaymentProofParams) (int64, error)
	ListStalePayments(ctx context.Context, cutoff time.Time) ([]Payment, error)
	ListPaymentsByUser(ctx context.Context, userID int64) ([]Payment, error)

	CreateVpnKey(ctx context.Context, arg CreateVpnKeyParams) (VpnKey, error)
	ActivateVpnKey(ctx context.Context, arg ActivateVpnKeyParams) (int64, error)
	TransitionVpnKeyStatus(ctx context.Context, arg TransitionVpnKeyStatusParams) (int64, error)
	DeleteVpnKey(ctx context.Context, id int64) (int64, error)
	GetVpnKey(ctx context.Context, id int64) (VpnKey, error)
	GetVpnKeyByPaymentID(ctx context.Context, paymentID string) (VpnKey, error)
	GetVpnKeyByName(ctx context.Context, keyName string) (VpnKey, error)
	GetVpnKeyByPublicKey(ctx context.Context, publicKey string) (VpnKey, error)
	ListExpiredActiveKeys(ctx context.Context, cutoff time.Time) ([]VpnKey, error)
	ListStalePendingKeys(ctx context.Context, cutoff time.Time) ([]VpnKey, error)
	ListActiveKeysByUser(ctx context.Context, userID int64) ([]VpnKey, error)
}

var _ Querier = (*Queries)(nil)
