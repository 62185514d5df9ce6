// Package vpnbot wires the credential vending pipeline together: payment
// workflow, provisioning, expiry reaping and reconciliation, all driven
// off one event bus.
package vpnbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/xam55/new-vpn-bot/internal/shared/logger"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/config"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/db"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/delivery"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/events"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/gateway"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/ipalloc"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/payment"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/provision"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/reaper"
)

// Service coordinates all components and manages their lifecycle.
type Service struct {
	config *config.Config
	logger *logger.Logger

	store       db.Store
	runner      gateway.Runner
	gateway     *gateway.Client
	allocator   *ipalloc.Allocator
	bus         *events.Bus
	payments    *payment.Service
	provisioner *provision.Service
	reaper      *reaper.Reaper
	delivery    delivery.Delivery

	ctx    context.Context
	cancel context.CancelFunc

	signalChan chan os.Signal
	shutdownWg sync.WaitGroup
	loopWg     sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex

	disableSignalHandling bool // for testing
}

// NewService creates a Service and initializes all components in
// dependency order.
func NewService(cfg *config.Config, log *logger.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:     cfg,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		signalChan: make(chan os.Signal, 1),
	}

	if err := s.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize service components: %w", err)
	}

	return s, nil
}

func (s *Service) initializeComponents() error {
	s.logger.Info("initializing service components")

	store, err := db.NewStore(&db.Config{
		Path:            s.config.DB.Path,
		MaxOpenConns:    s.config.DB.MaxOpenConns,
		MaxIdleConns:    s.config.DB.MaxIdleConns,
		ConnMaxLifetime: s.config.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}
	s.store = store

	runner, err := gateway.NewSSHRunner(gateway.RunnerConfig{
		Host:           s.config.SSH.Host,
		Port:           s.config.SSH.Port,
		User:           s.config.SSH.User,
		PrivateKeyPath: s.config.SSH.PrivateKeyPath,
		DialTimeout:    s.config.SSH.DialTimeout,
		CommandTimeout: s.config.SSH.CommandTimeout,
		RetryAttempts:  s.config.SSH.RetryAttempts,
		RetryBackoff:   s.config.SSH.RetryBackoff,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize ssh runner: %w", err)
	}

	// The breaker sits between the gateway client and SSH: a persistently
	// dead gateway fails fast instead of eating a full retry ladder on
	// every provisioning attempt.
	s.runner = gateway.NewBreakerRunner(runner, gateway.BreakerConfig{
		FailureThreshold: s.config.SSH.BreakerThreshold,
		ResetTimeout:     s.config.SSH.BreakerResetTimeout,
	}, s.logger)

	s.gateway = gateway.NewClient(s.runner, gateway.Config{
		Interface:    s.config.WireGuard.Interface,
		ConfigPath:   s.config.WireGuard.ConfigPath,
		EndpointHost: s.config.WireGuard.EndpointHost,
	}, s.logger)

	s.allocator, err = ipalloc.New(s.gateway,
		s.config.WireGuard.ClientIPStart, s.config.WireGuard.ClientIPEnd)
	if err != nil {
		return fmt.Errorf("failed to initialize address allocator: %w", err)
	}

	s.bus = events.NewBus(s.logger)

	s.payments = payment.NewService(s.store, s.bus, payment.Config{
		PricePerDay: float64(s.config.Payment.PricePerDay),
		Methods:     s.config.Payment.Methods,
		Expiry:      s.config.Payment.Expiry,
		MinDays:     s.config.Payment.MinDays,
		MaxDays:     s.config.Payment.MaxDays,
	}, s.logger)

	s.provisioner = provision.NewService(s.store, s.gateway, s.allocator, s.bus, provision.Config{
		MaskBits:         s.config.WireGuard.ClientMaskBits,
		DNSServers:       s.config.WireGuard.DNSServers,
		KeepaliveSeconds: s.config.WireGuard.KeepaliveSeconds,
		PendingTimeout:   s.config.Provision.PendingTimeout,
	}, s.logger)

	s.reaper = reaper.New(s.store, s.provisioner, reaper.Config{
		Interval:     s.config.Reaper.Interval,
		ErrorBackoff: s.config.Reaper.ErrorBackoff,
	}, s.logger)

	s.delivery = delivery.NewLogDelivery(s.logger)

	s.logger.Info("all service components initialized")
	return nil
}

// Start subscribes provisioning to payment confirmations and launches the
// background loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is already running")
	}

	s.logger.Info("starting vpn-bot service")

	if !s.disableSignalHandling {
		s.setupSignalHandling()
	}

	// Confirmed payments drive provisioning. The listener must be in
	// place before anything can confirm.
	s.bus.SubscribePaymentConfirmed(events.Listen(s.onPaymentConfirmed))
	s.bus.SubscribeKeyIssued(events.Listen(s.onKeyIssued))

	s.reaper.Start(s.ctx)

	s.loopWg.Add(2)
	go s.paymentExpiryLoop()
	go s.reconcileLoop()

	s.isRunning = true
	s.logger.Info("vpn-bot service started")
	return nil
}

// onPaymentConfirmed issues a credential for a confirmed payment. Issue
// is idempotent by payment id, so redelivery is harmless.
func (s *Service) onPaymentConfirmed(payload interface{}) error {
	event, ok := payload.(events.PaymentConfirmedEvent)
	if !ok {
		return fmt.Errorf("unexpected payment confirmed payload type %T", payload)
	}

	result, err := s.provisioner.Issue(s.ctx, provision.IssueRequest{
		UserID:    event.UserID,
		PaymentID: event.PaymentID,
		Days:      event.Days,
	})
	if err != nil {
		s.logger.ErrorCtx(s.ctx, "provisioning for confirmed payment failed", err,
			slog.String("payment_id", event.PaymentID),
			slog.String("outcome", string(outcomeOf(result))))
		return err
	}
	return nil
}

// onKeyIssued hands a committed credential to the delivery layer. The
// credential is already issued; a delivery failure is logged for support
// follow-up, never propagated back into provisioning.
func (s *Service) onKeyIssued(payload interface{}) error {
	event, ok := payload.(events.KeyIssuedEvent)
	if !ok {
		return fmt.Errorf("unexpected key issued payload type %T", payload)
	}

	if err := s.delivery.Deliver(s.ctx, delivery.Credential{
		KeyName:   event.KeyName,
		Address:   event.ClientAddress,
		ExpiresAt: event.ExpiresAt,
		Config:    event.Config,
	}); err != nil {
		s.logger.ErrorCtx(s.ctx, "credential delivery failed", err,
			slog.String("key_name", event.KeyName))
	}
	return nil
}

func outcomeOf(result *provision.IssueResult) provision.Outcome {
	if result == nil {
		return provision.OutcomeRolledBack
	}
	return result.Outcome
}

// paymentExpiryLoop expires stale pending payments on the reaper's cadence.
func (s *Service) paymentExpiryLoop() {
	defer s.loopWg.Done()

	ticker := time.NewTicker(s.config.Payment.Expiry)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.payments.ExpireStale(s.ctx); err != nil {
				s.logger.ErrorCtx(s.ctx, "payment expiry sweep failed", err)
			} else if n > 0 {
				s.logger.Info("expired stale payments", slog.Int("count", n))
			}
		}
	}
}

// reconcileLoop periodically settles gateway/store divergence.
func (s *Service) reconcileLoop() {
	defer s.loopWg.Done()

	interval := s.config.Provision.ReconcileInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.provisioner.Reconcile(s.ctx); err != nil {
				s.logger.ErrorCtx(s.ctx, "reconciliation sweep failed", err)
			}
		}
	}
}

func (s *Service) setupSignalHandling() {
	signal.Notify(s.signalChan, syscall.SIGINT, syscall.SIGTERM)

	s.shutdownWg.Add(1)
	go s.handleSignals()
}

func (s *Service) handleSignals() {
	defer s.shutdownWg.Done()

	select {
	case sig := <-s.signalChan:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("error during graceful shutdown", slog.Any("error", err))
		}

	case <-s.ctx.Done():
	}
}

// WaitForShutdown blocks until the service receives a shutdown signal.
func (s *Service) WaitForShutdown() {
	s.logger.Info("service running, waiting for shutdown signal")
	s.shutdownWg.Wait()
	s.logger.Info("service shutdown complete")
}

// Stop shuts down all components in reverse dependency order.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.logger.Info("stopping vpn-bot service")

	if !s.disableSignalHandling {
		signal.Stop(s.signalChan)
	}

	var lastErr error

	// Reaper first: no new revocations while we tear down, and an
	// in-flight one finishes.
	s.reaper.Stop()

	// Stop the ticker loops and the event flow.
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.loopWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("timeout waiting for background loops to finish")
		lastErr = ctx.Err()
	}

	if err := s.bus.Close(); err != nil {
		lastErr = err
	}

	if s.runner != nil {
		if err := s.runner.Close(); err != nil {
			s.logger.Error("failed to close ssh runner", slog.Any("error", err))
			lastErr = err
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close database store", slog.Any("error", err))
			lastErr = err
		}
	}

	s.isRunning = false

	if lastErr != nil {
		return fmt.Errorf("service shutdown completed with errors: %w", lastErr)
	}
	s.logger.Info("vpn-bot service stopped")
	return nil
}

// Close releases connections without a full lifecycle shutdown. For
// one-shot command use where Start was never called.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is running, use Stop")
	}

	s.cancel()
	var lastErr error
	if err := s.bus.Close(); err != nil {
		lastErr = err
	}
	if s.runner != nil {
		if err := s.runner.Close(); err != nil {
			lastErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Health reports whether the service and its store are responsive.
func (s *Service) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service is not running")
	}
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("service context cancelled")
	default:
		return s.store.Ping(context.Background())
	}
}

// IsRunning reports whether Start has succeeded and Stop has not run.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Payments exposes the payment workflow.
func (s *Service) Payments() *payment.Service { return s.payments }

// Provisioner exposes the provisioning service.
func (s *Service) Provisioner() *provision.Service { return s.provisioner }

func (s *Service) shutdownTimeout() time.Duration {
	if s.config != nil && s.config.Service.ShutdownTimeout > 0 {
		return s.config.Service.ShutdownTimeout
	}
	return 30 * time.Second
}
