// Package payment owns the manual payment workflow: a user opens a
// payment, submits proof, and an operator confirms or rejects it.
// Confirmation is the only path into provisioning and fires exactly one
// event per payment.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/internal/shared/logger"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/db"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/events"
)

// Config carries the pricing and expiry policy.
type Config struct {
	PricePerDay float64
	Methods     []string
	Expiry      time.Duration
	MinDays     int
	MaxDays     int
}

// Service implements the payment workflow on top of the store.
type Service struct {
	store  db.Store
	bus    *events.Bus
	config Config
	logger *logger.Logger

	now func() time.Time
}

// NewService creates the payment service.
func NewService(store db.Store, bus *events.Bus, config Config, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		config: config,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateResult is what the caller presents to the user: the stored
// payment plus the method-specific transfer details.
type CreateResult struct {
	Payment db.Payment
	Details Details
}

// Create opens a payment for the given user and day count. The day count
// is persisted with the payment and is the single source of truth for the
// credential lifetime; it is never recomputed from the amount.
func (s *Service) Create(ctx context.Context, telegramID int64, username string, days int, method string) (*CreateResult, error) {
	if days < s.config.MinDays || days > s.config.MaxDays {
		return nil, sharedErrors.NewPaymentError(sharedErrors.ErrCodeInvalidDayCount,
			fmt.Sprintf("day count %d outside [%d, %d]", days, s.config.MinDays, s.config.MaxDays), false, nil)
	}
	if !s.methodAllowed(method) {
		return nil, sharedErrors.NewPaymentError(sharedErrors.ErrCodeUnknownPaymentMethod,
			fmt.Sprintf("unknown payment method %q", method), false, nil)
	}

	user, err := s.store.CreateUser(ctx, db.CreateUserParams{TelegramID: telegramID, Username: username})
	if err != nil {
		return nil, sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to upsert user", false, err)
	}

	amount := float64(days) * s.config.PricePerDay
	paymentID := s.generatePaymentID()

	p, err := s.store.CreatePayment(ctx, db.CreatePaymentParams{
		ID:        paymentID,
		UserID:    user.ID,
		Amount:    amount,
		Days:      int64(days),
		Method:    method,
		ExpiresAt: s.now().Add(s.config.Expiry),
	})
	if err != nil {
		return nil, sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to create payment", false, err)
	}

	s.logger.InfoContext(ctx, "payment created",
		slog.String("payment_id", p.ID),
		slog.Int64("user_id", user.ID),
		slog.Int("days", days),
		slog.Float64("amount", amount),
		slog.String("method", method))

	return &CreateResult{Payment: p, Details: detailsFor(method, amount)}, nil
}

// SubmitProof attaches the user's proof of payment and moves the payment
// to paid. Only a pending payment accepts proof.
func (s *Service) SubmitProof(ctx context.Context, paymentID, proofRef string) error {
	n, err := s.store.AttachPaymentProof(ctx, db.AttachPaymentProofParams{ID: paymentID, Proof: proofRef})
	if err != nil {
		return sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to attach payment proof", false, err)
	}
	if n == 0 {
		p, err := s.getPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		return sharedErrors.NewPaymentError(sharedErrors.ErrCodePaymentInvalidState,
			fmt.Sprintf("payment %s is %s, proof accepted only while pending", paymentID, p.Status), false, nil)
	}

	s.logger.InfoContext(ctx, "payment proof submitted", slog.String("payment_id", paymentID))
	return nil
}

// Confirm marks a payment confirmed and publishes the event that drives
// provisioning. The operator's comment, if any, is stored with the
// payment. Confirming an already confirmed payment is a no-op, so a
// doubled operator click or redelivered update issues nothing twice.
// Terminal payments (rejected, cancelled, expired) can never be confirmed.
func (s *Service) Confirm(ctx context.Context, paymentID, adminComment string) error {
	p, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	switch p.Status {
	case db.PaymentStatusConfirmed:
		s.logger.InfoContext(ctx, "payment already confirmed, skipping",
			slog.String("payment_id", paymentID))
		return nil
	case db.PaymentStatusRejected, db.PaymentStatusCancelled, db.PaymentStatusExpired:
		return sharedErrors.NewPaymentError(sharedErrors.ErrCodePaymentTerminal,
			fmt.Sprintf("payment %s is terminal (%s)", paymentID, p.Status), false, nil)
	}

	// Guarded on the observed status: if a concurrent confirm won the
	// race, zero rows change and we publish nothing.
	n, err := s.store.TransitionPaymentStatus(ctx, db.TransitionPaymentStatusParams{
		ID: paymentID, ToStatus: db.PaymentStatusConfirmed, FromStatus: p.Status,
		AdminComment: adminComment,
	})
	if err != nil {
		return sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to confirm payment", false, err)
	}
	if n == 0 {
		s.logger.InfoContext(ctx, "payment confirmed by concurrent writer",
			slog.String("payment_id", paymentID))
		return nil
	}

	s.logger.InfoContext(ctx, "payment confirmed", slog.String("payment_id", paymentID))

	return s.bus.PublishPaymentConfirmed(events.PaymentConfirmedEvent{
		PaymentID: p.ID,
		UserID:    p.UserID,
		Days:      p.Days,
	})
}

// Reject marks a payment rejected, recording why. Terminal: the payment
// never provisions.
func (s *Service) Reject(ctx context.Context, paymentID, adminComment string) error {
	return s.terminate(ctx, paymentID, db.PaymentStatusRejected, adminComment,
		[]string{db.PaymentStatusPending, db.PaymentStatusPaid})
}

// Cancel marks a payment cancelled by the user. Only a pending payment
// can be cancelled; once proof is submitted the operator decides.
func (s *Service) Cancel(ctx context.Context, paymentID string) error {
	return s.terminate(ctx, paymentID, db.PaymentStatusCancelled, "",
		[]string{db.PaymentStatusPending})
}

func (s *Service) terminate(ctx context.Context, paymentID, toStatus, adminComment string, fromStatuses []string) error {
	p, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	for _, from := range fromStatuses {
		if p.Status != from {
			continue
		}
		n, err := s.store.TransitionPaymentStatus(ctx, db.TransitionPaymentStatusParams{
			ID: paymentID, ToStatus: toStatus, FromStatus: from,
			AdminComment: adminComment,
		})
		if err != nil {
			return sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to update payment status", false, err)
		}
		if n == 1 {
			s.logger.InfoContext(ctx, "payment "+toStatus, slog.String("payment_id", paymentID))
			return nil
		}
	}

	return sharedErrors.NewPaymentError(sharedErrors.ErrCodePaymentInvalidState,
		fmt.Sprintf("payment %s is %s, cannot move to %s", paymentID, p.Status, toStatus), false, nil)
}

// ExpireStale moves pending payments past their window to expired and
// returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.store.ListStalePayments(ctx, s.now())
	if err != nil {
		return 0, sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to list stale payments", false, err)
	}

	expired := 0
	for _, p := range stale {
		n, err := s.store.TransitionPaymentStatus(ctx, db.TransitionPaymentStatusParams{
			ID: p.ID, ToStatus: db.PaymentStatusExpired, FromStatus: db.PaymentStatusPending,
		})
		if err != nil {
			return expired, sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to expire payment", false, err)
		}
		if n == 1 {
			expired++
			s.logger.InfoContext(ctx, "payment expired", slog.String("payment_id", p.ID))
		}
	}
	return expired, nil
}

// Get returns a payment by id.
func (s *Service) Get(ctx context.Context, paymentID string) (db.Payment, error) {
	return s.getPayment(ctx, paymentID)
}

func (s *Service) getPayment(ctx context.Context, paymentID string) (db.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Payment{}, sharedErrors.NewPaymentError(sharedErrors.ErrCodePaymentNotFound,
			fmt.Sprintf("payment %s not found", paymentID), false, err)
	}
	if err != nil {
		return db.Payment{}, sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to load payment", false, err)
	}
	return p, nil
}

func (s *Service) methodAllowed(method string) bool {
	for _, m := range s.config.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// generatePaymentID produces the external reference: PAY-YYYYMMDD-XXXXXXXX.
func (s *Service) generatePaymentID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("PAY-%s-%s", s.now().Format("20060102"), suffix)
}
