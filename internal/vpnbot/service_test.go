package vpnbot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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
	"github.com/xam55/new-vpn-bot/pkg/wgkeys"
)

// memRunner satisfies gateway.Runner with an in-memory peer table,
// answering the commands the gateway client issues without a network.
type memRunner struct {
	serverKey string

	mu    sync.Mutex
	peers map[string]string // public key -> address
}

func newMemRunner(t *testing.T) *memRunner {
	t.Helper()
	kp, err := wgkeys.Generate()
	require.NoError(t, err)
	return &memRunner{serverKey: kp.PrivateKey, peers: make(map[string]string)}
}

func (r *memRunner) Run(ctx context.Context, command string) (*gateway.CommandResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := strings.Fields(command)
	switch {
	case strings.HasPrefix(command, "sudo cat "):
		conf := fmt.Sprintf("[Interface]\nPrivateKey = %s\nListenPort = 51820\n", r.serverKey)
		return &gateway.CommandResult{Stdout: conf}, nil

	case strings.Contains(command, "wg show"):
		var sb strings.Builder
		for pk, addr := range r.peers {
			fmt.Fprintf(&sb, "%s\t%s/32\n", pk, addr)
		}
		return &gateway.CommandResult{Stdout: sb.String()}, nil

	case strings.Contains(command, "allowed-ips") && len(fields) >= 8:
		r.peers[fields[5]] = strings.SplitN(fields[7], "/", 2)[0]
		return &gateway.CommandResult{}, nil

	case strings.HasSuffix(command, " remove"):
		delete(r.peers, fields[5])
		return &gateway.CommandResult{}, nil

	case strings.Contains(command, "wg-quick save"):
		return &gateway.CommandResult{}, nil
	}
	return &gateway.CommandResult{ExitCode: 1, Stderr: "unknown command"}, nil
}

func (r *memRunner) Close() error { return nil }

func (r *memRunner) hasPeer(publicKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[publicKey]
	return ok
}

// recordingDelivery captures what would have been sent to the purchaser.
type recordingDelivery struct {
	mu    sync.Mutex
	creds []delivery.Credential
}

func (r *recordingDelivery) Deliver(_ context.Context, cred delivery.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds = append(r.creds, cred)
	return nil
}

func (r *recordingDelivery) delivered() []delivery.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Credential(nil), r.creds...)
}

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{ShutdownTimeout: 5 * time.Second},
		WireGuard: config.WireGuardConfig{
			Interface:        "wg0",
			ConfigPath:       "/etc/wireguard/wg0.conf",
			EndpointHost:     "203.0.113.10",
			ClientIPStart:    "10.0.0.2",
			ClientIPEnd:      "10.0.0.254",
			ClientMaskBits:   24,
			DNSServers:       []string{"1.1.1.1", "8.8.8.8"},
			KeepaliveSeconds: 25,
		},
		Payment: config.PaymentConfig{
			PricePerDay: 10,
			Methods:     payment.DefaultMethods(),
			Expiry:      30 * time.Minute,
			MinDays:     1,
			MaxDays:     365,
		},
		Reaper: config.ReaperConfig{
			Interval:     time.Hour,
			ErrorBackoff: time.Minute,
		},
		Provision: config.ProvisionConfig{
			PendingTimeout: 15 * time.Minute,
			// Zero disables the periodic sweep; tests drive it directly.
			ReconcileInterval: 0,
		},
	}
}

type serviceTestEnv struct {
	svc       *Service
	sqlDB     *sql.DB
	runner    *memRunner
	delivered *recordingDelivery
}

// newServiceForTesting assembles a Service from an in-memory store and an
// in-memory gateway runner, skipping NewService's file-backed store and
// real SSH setup.
func newServiceForTesting(t *testing.T, cfg *config.Config) *serviceTestEnv {
	t.Helper()

	log := logger.NewDevelopment("vpnbot-test")
	sqlDB, store := db.NewTestDB(t)

	runner := newMemRunner(t)
	gw := gateway.NewClient(runner, gateway.Config{
		Interface:    cfg.WireGuard.Interface,
		ConfigPath:   cfg.WireGuard.ConfigPath,
		EndpointHost: cfg.WireGuard.EndpointHost,
	}, log)

	allocator, err := ipalloc.New(gw, cfg.WireGuard.ClientIPStart, cfg.WireGuard.ClientIPEnd)
	require.NoError(t, err)

	bus := events.NewBus(log)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config:     cfg,
		logger:     log,
		store:      store,
		runner:     runner,
		gateway:    gw,
		allocator:  allocator,
		bus:        bus,
		ctx:        ctx,
		cancel:     cancel,
		signalChan: make(chan os.Signal, 1),

		disableSignalHandling: true,
	}
	s.payments = payment.NewService(store, bus, payment.Config{
		PricePerDay: float64(cfg.Payment.PricePerDay),
		Methods:     cfg.Payment.Methods,
		Expiry:      cfg.Payment.Expiry,
		MinDays:     cfg.Payment.MinDays,
		MaxDays:     cfg.Payment.MaxDays,
	}, log)
	s.provisioner = provision.NewService(store, gw, allocator, bus, provision.Config{
		MaskBits:         cfg.WireGuard.ClientMaskBits,
		DNSServers:       cfg.WireGuard.DNSServers,
		KeepaliveSeconds: cfg.WireGuard.KeepaliveSeconds,
		PendingTimeout:   cfg.Provision.PendingTimeout,
	}, log)
	s.reaper = reaper.New(store, s.provisioner, reaper.Config{
		Interval:     cfg.Reaper.Interval,
		ErrorBackoff: cfg.Reaper.ErrorBackoff,
	}, log)

	delivered := &recordingDelivery{}
	s.delivery = delivered

	return &serviceTestEnv{svc: s, sqlDB: sqlDB, runner: runner, delivered: delivered}
}

func TestServiceStartStop(t *testing.T) {
	service := newServiceForTesting(t, testConfig()).svc

	require.Error(t, service.Health(), "health must fail before start")
	require.False(t, service.IsRunning())

	ctx := context.Background()
	require.NoError(t, service.Start(ctx))
	require.True(t, service.IsRunning())
	require.NoError(t, service.Health())

	require.NoError(t, service.Stop(ctx))
	require.False(t, service.IsRunning())
	require.Error(t, service.Health(), "health must fail after stop")
}

func TestServiceStartAlreadyRunning(t *testing.T) {
	service := newServiceForTesting(t, testConfig()).svc

	ctx := context.Background()
	require.NoError(t, service.Start(ctx))
	require.Error(t, service.Start(ctx), "second start must be rejected")

	require.NoError(t, service.Stop(ctx))
}

func TestServiceStopNotRunning(t *testing.T) {
	service := newServiceForTesting(t, testConfig()).svc

	require.NoError(t, service.Stop(context.Background()), "stop before start is a no-op")
}

// A confirmed payment must flow through the bus into provisioning and
// come out the other side as an active credential handed to delivery,
// with nothing but the service's own wiring in between.
func TestServicePaymentConfirmationProvisions(t *testing.T) {
	env := newServiceForTesting(t, testConfig())
	service := env.svc
	ctx := context.Background()

	require.NoError(t, service.Start(ctx))
	defer service.Stop(ctx)

	created, err := service.Payments().Create(ctx, 42, "tester", 30, payment.MethodCard)
	require.NoError(t, err)

	require.NoError(t, service.Payments().SubmitProof(ctx, created.Payment.ID, "receipt-1"))
	require.NoError(t, service.Payments().Confirm(ctx, created.Payment.ID, "checked"))

	key, err := service.store.GetVpnKeyByPaymentID(ctx, created.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, db.KeyStatusActive, key.Status)
	require.Equal(t, "10.0.0.2", key.ClientAddress)
	require.NotEmpty(t, key.Config)

	creds := env.delivered.delivered()
	require.Len(t, creds, 1)
	require.Equal(t, key.KeyName, creds[0].KeyName)
	require.Equal(t, key.ClientAddress, creds[0].Address)
	require.Equal(t, key.Config, creds[0].Config)
}

// An active key whose paid period has ended must come out of one reaper
// sweep revoked, with its peer gone from the gateway.
func TestServiceReaperRevokesExpiredKey(t *testing.T) {
	env := newServiceForTesting(t, testConfig())
	service := env.svc
	ctx := context.Background()

	require.NoError(t, service.Start(ctx))
	defer service.Stop(ctx)

	created, err := service.Payments().Create(ctx, 77, "tester", 1, payment.MethodCard)
	require.NoError(t, err)
	require.NoError(t, service.Payments().SubmitProof(ctx, created.Payment.ID, "receipt-2"))
	require.NoError(t, service.Payments().Confirm(ctx, created.Payment.ID, ""))

	key, err := service.store.GetVpnKeyByPaymentID(ctx, created.Payment.ID)
	require.NoError(t, err)
	require.True(t, env.runner.hasPeer(key.PublicKey))

	_, err = env.sqlDB.Exec("UPDATE vpn_keys SET expires_at = ? WHERE id = ?",
		time.Now().UTC().Add(-time.Hour), key.ID)
	require.NoError(t, err)

	require.NoError(t, service.reaper.Sweep(ctx))

	key, err = service.store.GetVpnKeyByPaymentID(ctx, created.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, db.KeyStatusRevoked, key.Status)
	require.False(t, env.runner.hasPeer(key.PublicKey))
}
