// Package events carries the in-process notifications that tie payment
// confirmation to provisioning and provisioning to delivery. Listeners
// must be idempotent: the bus guarantees at-least-once delivery within
// the process, not exactly-once.
package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gookit/event"

	"github.com/xam55/new-vpn-bot/internal/shared/logger"
)

// Event topics.
const (
	EventPaymentConfirmed = "payment.confirmed"
	EventKeyIssued        = "key.issued"
	EventKeyRevoked       = "key.revoked"
)

// PaymentConfirmedEvent fires when an operator confirms a payment. The
// provisioning service consumes it to issue credentials.
type PaymentConfirmedEvent struct {
	PaymentID  string
	UserID     int64
	TelegramID int64
	Days       int64
	Timestamp  time.Time
}

// KeyIssuedEvent fires after a credential is committed: the gateway holds
// the peer and the store holds the active record.
type KeyIssuedEvent struct {
	PaymentID     string
	UserID        int64
	TelegramID    int64
	KeyName       string
	ClientAddress string
	Config        string
	ExpiresAt     time.Time
	Timestamp     time.Time
}

// KeyRevokedEvent fires after a key is removed from the gateway.
type KeyRevokedEvent struct {
	KeyName   string
	UserID    int64
	Reason    string
	Timestamp time.Time
}

// Bus wraps the gookit event manager for vpn-bot events.
type Bus struct {
	bus    *event.Manager
	logger *logger.Logger
}

// NewBus creates the event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		bus:    event.NewManager("vpnbot"),
		logger: log,
	}
}

// PublishPaymentConfirmed publishes a payment confirmed event.
func (b *Bus) PublishPaymentConfirmed(payload PaymentConfirmedEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	b.logger.Debug("publishing payment confirmed event",
		slog.String("payment_id", payload.PaymentID),
		slog.Int64("user_id", payload.UserID))

	err, _ := b.bus.Fire(EventPaymentConfirmed, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish payment confirmed event: %w", err)
	}
	return nil
}

// PublishKeyIssued publishes a key issued event.
func (b *Bus) PublishKeyIssued(payload KeyIssuedEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	b.logger.Info("publishing key issued event",
		slog.String("payment_id", payload.PaymentID),
		slog.String("key_name", payload.KeyName),
		slog.String("client_address", payload.ClientAddress))

	err, _ := b.bus.Fire(EventKeyIssued, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish key issued event: %w", err)
	}
	return nil
}

// PublishKeyRevoked publishes a key revoked event.
func (b *Bus) PublishKeyRevoked(payload KeyRevokedEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	b.logger.Info("publishing key revoked event",
		slog.String("key_name", payload.KeyName),
		slog.String("reason", payload.Reason))

	err, _ := b.bus.Fire(EventKeyRevoked, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish key revoked event: %w", err)
	}
	return nil
}

// SubscribePaymentConfirmed subscribes to payment confirmed events. The
// provisioning listener runs at high priority so credentials are issued
// before any notification listeners observe the event.
func (b *Bus) SubscribePaymentConfirmed(listener event.Listener) {
	b.bus.On(EventPaymentConfirmed, listener, event.High)
}

// SubscribeKeyIssued subscribes to key issued events.
func (b *Bus) SubscribeKeyIssued(listener event.Listener) {
	b.bus.On(EventKeyIssued, listener, event.Normal)
}

// SubscribeKeyRevoked subscribes to key revoked events.
func (b *Bus) SubscribeKeyRevoked(listener event.Listener) {
	b.bus.On(EventKeyRevoked, listener, event.Normal)
}

// Close shuts down the event bus and drops all listeners.
func (b *Bus) Close() error {
	b.bus.Clear()
	return nil
}

// Listen adapts a plain handler into a gookit listener.
func Listen(handler func(payload interface{}) error) event.Listener {
	return event.ListenerFunc(func(e event.Event) error {
		return handler(e.Get("payload"))
	})
}

// ExtractPayload safely extracts and casts an event payload.
func ExtractPayload[T any](e event.Event) (T, error) {
	var zero T

	payload := e.Get("payload")
	if payload == nil {
		return zero, fmt.Errorf("no payload found in event")
	}

	typed, ok := payload.(T)
	if !ok {
		return zero, fmt.Errorf("payload type mismatch: expected %T, got %T", zero, payload)
	}

	return typed, nil
}
