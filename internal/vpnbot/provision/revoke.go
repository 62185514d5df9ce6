package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/internal/shared/logger"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/db"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/events"
)

// Revoke removes a credential from the gateway and marks its record
// revoked. Every terminal path ends here: operator action, abuse, and the
// expiry reaper (reason "expired") all converge on the same status, so
// the record always agrees with the gateway. Revoking an already revoked
// or unknown-to-the-gateway key is not an error; the end state is what
// matters.
func (s *Service) Revoke(ctx context.Context, keyName, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logger.AddKeyNameToContext(ctx, keyName)
	op := s.logger.StartOp(ctx, "Revoke",
		slog.String("key_name", keyName),
		slog.String("reason", reason))

	record, err := s.store.GetVpnKeyByName(ctx, keyName)
	if errors.Is(err, sql.ErrNoRows) {
		err = sharedErrors.NewProvisioningError(sharedErrors.ErrCodeKeyNotFound,
			fmt.Sprintf("key %s not found", keyName), false, err)
		op.Fail(err, "unknown key")
		return err
	}
	if err != nil {
		err = sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to load key record", false, err)
		op.Fail(err, "failed to load key record")
		return err
	}

	if record.Status == db.KeyStatusRevoked || record.Status == db.KeyStatusExpired {
		op.Complete("key already retired", slog.String("status", record.Status))
		return nil
	}

	// Gateway first: access must end even if the record update then
	// fails, and RemovePeer of an absent peer succeeds silently so a
	// retry converges.
	if err := s.gateway.RemovePeer(ctx, record.PublicKey); err != nil {
		err = sharedErrors.NewProvisioningError(sharedErrors.ErrCodeRevocationFailed,
			fmt.Sprintf("failed to remove peer for key %s", keyName), sharedErrors.IsRetryable(err), err)
		op.Fail(err, "gateway removal failed")
		return err
	}

	n, err := s.store.TransitionVpnKeyStatus(ctx, db.TransitionVpnKeyStatusParams{
		ID: record.ID, ToStatus: db.KeyStatusRevoked, FromStatus: record.Status,
	})
	if err != nil {
		err = sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to update key status", false, err)
		op.Fail(err, "record update failed after gateway removal")
		return err
	}
	if n == 0 {
		// A concurrent retire won; the peer is gone either way.
		op.Complete("key retired by concurrent writer")
		return nil
	}

	if err := s.bus.PublishKeyRevoked(events.KeyRevokedEvent{
		KeyName: keyName,
		UserID:  record.UserID,
		Reason:  reason,
	}); err != nil {
		s.logger.ErrorCtx(ctx, "failed to publish key revoked event", err,
			slog.String("key_name", keyName))
	}

	op.Complete("key revoked", slog.String("reason", reason))
	return nil
}
