// Package provision turns a confirmed payment into a working WireGuard
// credential: keypair, address, gateway peer, client config, store record.
//
// The dangerous window is between registering the peer on the gateway and
// persisting the active record. A provisional record is written before the
// gateway call, so a crash in that window leaves evidence the
// reconciliation sweep can act on instead of a silently orphaned peer.
package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/internal/shared/logger"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/clientconf"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/db"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/events"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/gateway"
	"github.com/xam55/new-vpn-bot/pkg/wgkeys"
)

// Outcome tells the caller what state the attempt left the system in.
type Outcome string

const (
	// OutcomeCommitted: peer live on the gateway, active record stored.
	OutcomeCommitted Outcome = "committed"
	// OutcomeRolledBack: nothing issued, gateway and store both clean.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeNeedsReconciliation: gateway and store may disagree; the
	// reconciliation sweep settles it.
	OutcomeNeedsReconciliation Outcome = "needs_reconciliation"
)

// Gateway is the peer-table surface the service needs.
type Gateway interface {
	AddPeer(ctx context.Context, publicKey, address string) error
	RemovePeer(ctx context.Context, publicKey string) error
	ListPeers(ctx context.Context) ([]gateway.Peer, error)
	ReadServerInfo(ctx context.Context) (*gateway.ServerInfo, error)
}

// AddressAllocator hands out a free client address.
type AddressAllocator interface {
	NextFree(ctx context.Context) (string, error)
}

// Config carries the client-side rendering policy and the reconciliation
// window.
type Config struct {
	MaskBits         int
	DNSServers       []string
	KeepaliveSeconds int
	PendingTimeout   time.Duration
}

// IssueRequest asks for one credential for one confirmed payment.
type IssueRequest struct {
	UserID    int64
	PaymentID string
	Days      int64
}

// IssueResult reports the attempt.
type IssueResult struct {
	Outcome       Outcome
	KeyName       string
	ClientAddress string
	Config        string
	ExpiresAt     time.Time
}

// Service is the key provisioning service.
type Service struct {
	store     db.Store
	gateway   Gateway
	allocator AddressAllocator
	bus       *events.Bus
	config    Config
	logger    *logger.Logger

	// mu serializes allocate-then-register across all writers. Address
	// selection reads the live peer table and is only safe when no other
	// registration can land between the read and the AddPeer.
	mu sync.Mutex

	now func() time.Time
}

// NewService creates the provisioning service.
func NewService(store db.Store, gw Gateway, allocator AddressAllocator, bus *events.Bus, config Config, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gw,
		allocator: allocator,
		bus:       bus,
		config:    config,
		logger:    log,
		// UTC keeps stored timestamps comparable with sqlite's
		// CURRENT_TIMESTAMP defaults.
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Issue provisions a credential for a confirmed payment. Calling it again
// with the same payment id returns the already-issued credential instead
// of provisioning twice.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if req.PaymentID == "" || req.UserID <= 0 || req.Days <= 0 {
		return nil, sharedErrors.NewProvisioningError(sharedErrors.ErrCodeValidation,
			fmt.Sprintf("invalid issue request: user=%d payment=%q days=%d", req.UserID, req.PaymentID, req.Days), false, nil)
	}

	ctx = logger.AddPaymentIDToContext(ctx, req.PaymentID)
	op := s.logger.StartOp(ctx, "Issue",
		slog.String("payment_id", req.PaymentID),
		slog.Int64("user_id", req.UserID),
		slog.Int64("days", req.Days))

	// Idempotency: one credential per payment, ever.
	if result, err, done := s.checkExisting(ctx, req.PaymentID); done {
		if err != nil {
			op.Fail(err, "duplicate provisioning attempt rejected")
		} else {
			op.Complete("credential already issued for payment")
		}
		return result, err
	}

	// Key generation is local and the server info read goes over SSH;
	// neither depends on the other, so they run concurrently.
	keys, info, err := s.prepare(ctx)
	if err != nil {
		op.Fail(err, "failed to prepare credential material")
		return &IssueResult{Outcome: OutcomeRolledBack}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Recheck under the lock: a concurrent delivery of the same
	// confirmation may have provisioned while this call was preparing.
	// The loser hands back the winner's credential instead of tripping
	// over the payment-id uniqueness constraint.
	if result, err, done := s.checkExisting(ctx, req.PaymentID); done {
		if err != nil {
			op.Fail(err, "duplicate provisioning attempt rejected")
		} else {
			op.Complete("credential already issued for payment")
		}
		return result, err
	}

	address, err := s.allocator.NextFree(ctx)
	if err != nil {
		op.Fail(err, "address allocation failed")
		return &IssueResult{Outcome: OutcomeRolledBack}, err
	}

	keyName := s.generateKeyName(req.UserID)
	expiresAt := s.now().Add(time.Duration(req.Days) * 24 * time.Hour)

	record, err := s.store.CreateVpnKey(ctx, db.CreateVpnKeyParams{
		PaymentID:     req.PaymentID,
		UserID:        req.UserID,
		KeyName:       keyName,
		PublicKey:     keys.PublicKey,
		ClientAddress: address,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		err = sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to write provisional key record", false, err)
		op.Fail(err, "provisional record rejected")
		return &IssueResult{Outcome: OutcomeRolledBack}, err
	}

	if err := s.gateway.AddPeer(ctx, keys.PublicKey, address); err != nil {
		return s.rollback(ctx, op, record, err)
	}

	config, err := clientconf.Render(clientconf.Params{
		ClientPrivateKey: keys.PrivateKey,
		ClientAddress:    address,
		MaskBits:         s.config.MaskBits,
		DNSServers:       s.config.DNSServers,
		ServerPublicKey:  info.PublicKey,
		EndpointHost:     info.EndpointHost,
		EndpointPort:     info.ListenPort,
		KeepaliveSeconds: s.config.KeepaliveSeconds,
	})
	if err != nil {
		// The peer is already live. Try to take it back out; if even
		// that fails the sweep has a provisional record to work from.
		if rmErr := s.gateway.RemovePeer(ctx, keys.PublicKey); rmErr != nil {
			return s.needsReconciliation(op, record, errors.Join(err, rmErr))
		}
		return s.rollback(ctx, op, record, err)
	}

	if n, err := s.store.ActivateVpnKey(ctx, db.ActivateVpnKeyParams{ID: record.ID, Config: config}); err != nil || n == 0 {
		if err == nil {
			err = fmt.Errorf("provisional record %d vanished before promotion", record.ID)
		}
		return s.needsReconciliation(op, record, err)
	}

	result := &IssueResult{
		Outcome:       OutcomeCommitted,
		KeyName:       keyName,
		ClientAddress: address,
		Config:        config,
		ExpiresAt:     expiresAt,
	}

	if err := s.bus.PublishKeyIssued(events.KeyIssuedEvent{
		PaymentID:     req.PaymentID,
		UserID:        req.UserID,
		KeyName:       keyName,
		ClientAddress: address,
		Config:        config,
		ExpiresAt:     expiresAt,
	}); err != nil {
		// The credential is committed; a delivery hiccup must not undo it.
		s.logger.ErrorCtx(ctx, "failed to publish key issued event", err,
			slog.String("key_name", keyName))
	}

	op.Complete("credential issued",
		slog.String("key_name", keyName),
		slog.String("client_address", address))
	return result, nil
}

// checkExisting resolves a repeated payment id. done=false means no prior
// attempt exists and provisioning should proceed.
func (s *Service) checkExisting(ctx context.Context, paymentID string) (*IssueResult, error, bool) {
	existing, err := s.store.GetVpnKeyByPaymentID(ctx, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, false
	}
	if err != nil {
		return nil, sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to check for existing key", false, err), true
	}

	switch existing.Status {
	case db.KeyStatusActive:
		return &IssueResult{
			Outcome:       OutcomeCommitted,
			KeyName:       existing.KeyName,
			ClientAddress: existing.ClientAddress,
			Config:        existing.Config,
			ExpiresAt:     existing.ExpiresAt,
		}, nil, true
	case db.KeyStatusPending:
		// An earlier attempt is in flight or died mid-way. Let the sweep
		// settle it rather than racing a second credential.
		return &IssueResult{Outcome: OutcomeNeedsReconciliation, KeyName: existing.KeyName},
			sharedErrors.NewProvisioningError(sharedErrors.ErrCodeNeedsReconciliation,
				fmt.Sprintf("payment %s has an unresolved provisioning attempt", paymentID), true, nil), true
	default:
		return nil, sharedErrors.NewProvisioningError(sharedErrors.ErrCodeDuplicateProvision,
			fmt.Sprintf("payment %s already consumed by %s key %s", paymentID, existing.Status, existing.KeyName), false, nil), true
	}
}

// prepare generates the client keypair while the gateway's endpoint info
// is read over SSH.
func (s *Service) prepare(ctx context.Context) (*wgkeys.KeyPair, *gateway.ServerInfo, error) {
	type infoResult struct {
		info *gateway.ServerInfo
		err  error
	}
	infoCh := make(chan infoResult, 1)
	go func() {
		info, err := s.gateway.ReadServerInfo(ctx)
		infoCh <- infoResult{info, err}
	}()

	keys, keyErr := wgkeys.Generate()
	res := <-infoCh

	if keyErr != nil {
		return nil, nil, sharedErrors.NewKeyGenError(sharedErrors.ErrCodeKeyGenUnavailable,
			"failed to generate client keypair", true, keyErr)
	}
	if res.err != nil {
		return nil, nil, res.err
	}
	return keys, res.info, nil
}

func (s *Service) rollback(ctx context.Context, op *logger.Operation, record db.VpnKey, cause error) (*IssueResult, error) {
	if _, err := s.store.DeleteVpnKey(ctx, record.ID); err != nil {
		return s.needsReconciliation(op, record, errors.Join(cause, err))
	}

	err := sharedErrors.NewProvisioningError(sharedErrors.ErrCodeProvisionFailed,
		"provisioning rolled back", sharedErrors.IsRetryable(cause), cause)
	op.Fail(err, "provisioning rolled back", slog.String("key_name", record.KeyName))
	return &IssueResult{Outcome: OutcomeRolledBack}, err
}

func (s *Service) needsReconciliation(op *logger.Operation, record db.VpnKey, cause error) (*IssueResult, error) {
	err := sharedErrors.NewProvisioningError(sharedErrors.ErrCodeNeedsReconciliation,
		fmt.Sprintf("provisioning for key %s left gateway and store possibly diverged", record.KeyName), true, cause)
	op.Fail(err, "provisioning needs reconciliation", slog.String("key_name", record.KeyName))
	return &IssueResult{Outcome: OutcomeNeedsReconciliation, KeyName: record.KeyName}, err
}

// generateKeyName builds the per-credential name: user<id>_<unix>_<rand>.
func (s *Service) generateKeyName(userID int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("user%d_%d_%s", userID, s.now().Unix(), suffix)
}
