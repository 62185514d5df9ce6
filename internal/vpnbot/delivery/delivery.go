// Package delivery is the seam between the provisioning core and whatever
// carries issued credentials to the purchaser (a chat bot, mail, an
// operator console). Provisioning never depends on delivery succeeding: a
// committed credential stays committed even when nobody could be told
// about it.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/xam55/new-vpn-bot/internal/shared/logger"
)

// Credential is what the purchaser needs after a successful issue.
type Credential struct {
	KeyName   string
	Address   string
	ExpiresAt time.Time
	Config    string
}

// Delivery hands an issued credential to the purchaser.
type Delivery interface {
	Deliver(ctx context.Context, cred Credential) error
}

// LogDelivery is the shipping default when no messaging channel is
// attached: it records that a credential is ready and where it points.
// The config body and key material never reach the log.
type LogDelivery struct {
	logger *logger.Logger
}

// NewLogDelivery creates the logging delivery sink.
func NewLogDelivery(log *logger.Logger) *LogDelivery {
	return &LogDelivery{logger: log}
}

// Deliver logs the credential metadata and succeeds.
func (d *LogDelivery) Deliver(ctx context.Context, cred Credential) error {
	d.logger.InfoContext(ctx, "credential ready for delivery",
		slog.String("key_name", cred.KeyName),
		slog.String("client_address", cred.Address),
		slog.Time("expires_at", cred.ExpiresAt))
	return nil
}
