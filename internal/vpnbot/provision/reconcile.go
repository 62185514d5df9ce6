package provision

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/db"
)

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	Promoted       int // provisional records whose peer turned out live
	Discarded      int // provisional records with no peer behind them
	OrphansRemoved int // gateway peers with no backing record
}

// Reconcile settles divergence between the gateway's peer table and the
// store. Provisional records older than the pending timeout are promoted
// when their peer exists and discarded when it does not; gateway peers
// that no record claims are removed.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := s.logger.StartOp(ctx, "Reconcile")
	report := &ReconcileReport{}

	peers, err := s.gateway.ListPeers(ctx)
	if err != nil {
		op.Fail(err, "failed to list gateway peers")
		return nil, err
	}
	livePeers := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		livePeers[p.PublicKey] = struct{}{}
	}

	stale, err := s.store.ListStalePendingKeys(ctx, s.now().Add(-s.config.PendingTimeout))
	if err != nil {
		err = sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to list stale provisional records", false, err)
		op.Fail(err, "failed to list stale provisional records")
		return nil, err
	}

	var firstErr error
	for _, record := range stale {
		if _, live := livePeers[record.PublicKey]; live {
			if err := s.promoteStale(ctx, record); err != nil {
				s.logger.ErrorCtx(ctx, "failed to promote stale record", err,
					slog.String("key_name", record.KeyName))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			report.Promoted++
		} else {
			if _, err := s.store.DeleteVpnKey(ctx, record.ID); err != nil {
				s.logger.ErrorCtx(ctx, "failed to discard stale record", err,
					slog.String("key_name", record.KeyName))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			report.Discarded++
			s.logger.InfoContext(ctx, "discarded stale provisional record",
				slog.String("key_name", record.KeyName))
		}
	}

	for _, peer := range peers {
		orphan, err := s.isOrphanPeer(ctx, peer.PublicKey)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !orphan {
			continue
		}
		if err := s.gateway.RemovePeer(ctx, peer.PublicKey); err != nil {
			s.logger.ErrorCtx(ctx, "failed to remove orphan peer", err,
				slog.String("public_key", peer.PublicKey[:8]+"..."))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report.OrphansRemoved++
		s.logger.WarnContext(ctx, "removed orphan gateway peer",
			slog.String("public_key", peer.PublicKey[:8]+"..."))
	}

	op.Complete("reconciliation sweep finished",
		slog.Int("promoted", report.Promoted),
		slog.Int("discarded", report.Discarded),
		slog.Int("orphans_removed", report.OrphansRemoved))
	return report, firstErr
}

// promoteStale finishes a provisioning attempt that registered its peer
// but never promoted its record. The client private key died with the
// original attempt, so the stored config stays empty; the peer keeps
// working for a client that already received its config, and the record
// now correctly claims the address and the peer.
func (s *Service) promoteStale(ctx context.Context, record db.VpnKey) error {
	n, err := s.store.ActivateVpnKey(ctx, db.ActivateVpnKeyParams{ID: record.ID, Config: ""})
	if err != nil {
		return sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to promote stale record", false, err)
	}
	if n == 1 {
		s.logger.InfoContext(ctx, "promoted stale provisional record",
			slog.String("key_name", record.KeyName))
	}
	return nil
}

// isOrphanPeer reports whether a gateway peer has no active or pending
// record claiming it.
func (s *Service) isOrphanPeer(ctx context.Context, publicKey string) (bool, error) {
	record, err := s.store.GetVpnKeyByPublicKey(ctx, publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, sharedErrors.NewDatabaseError(sharedErrors.ErrCodeDatabase, "failed to look up peer record", false, err)
	}
	// Revoked and expired records should have no live peer either.
	return record.Status == db.KeyStatusRevoked || record.Status == db.KeyStatusExpired, nil
}
