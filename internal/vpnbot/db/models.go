package db

import "time"

// Payment status values. A payment is terminal once confirmed, rejected,
// cancelled or expired.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusRejected  = "rejected"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusExpired   = "expired"
)

// VPN key status values. 'pending' marks a provisional record written
// before the gateway acknowledged the peer.
const (
	KeyStatusPending = "pending"
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
	KeyStatusExpired = "expired"
)

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	CreatedAt  time.Time
}

type Payment struct {
	ID           string
	UserID       int64
	Amount       float64
	Days         int64
	Method       string
	Status       string
	Proof        string
	AdminComment string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

type VpnKey struct {
	ID            int64
	PaymentID     string
	UserID        int64
	KeyName       string
	PublicKey     string
	ClientAddress string
	Config        string
	Status        string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}
