// Package reaper retires credentials whose paid period has ended. It is
// the only automatic path off the gateway: everything else removes peers
// on explicit request.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/xam55/new-vpn-bot/internal/shared/logger"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/db"
)

// Retirer removes a single credential; the provisioning service satisfies
// this. The reaper revokes with reason "expired" so an expired key ends in
// the same revoked state as any other removal.
type Retirer interface {
	Revoke(ctx context.Context, keyName, reason string) error
}

// Config holds the loop timing.
type Config struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
}

// State names the loop's current phase, exported for observability.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateRevoking State = "revoking"
	StateBackoff  State = "backoff"
)

// Reaper periodically scans for expired active keys and retires them one
// by one. A failure on one key is logged and left for the next cycle; it
// never blocks the rest of the batch.
type Reaper struct {
	store   db.Store
	retirer Retirer
	config  Config
	logger  *logger.Logger

	stop chan struct{}
	done chan struct{}

	now func() time.Time
}

// New creates a reaper.
func New(store db.Store, retirer Retirer, config Config, log *logger.Logger) *Reaper {
	return &Reaper{
		store:   store,
		retirer: retirer,
		config:  config,
		logger:  log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the reaper loop. One sweep runs immediately so a restart
// does not wait a full interval to catch up on expiries.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("starting expiry reaper",
		slog.Duration("interval", r.config.Interval),
		slog.Duration("error_backoff", r.config.ErrorBackoff))
	go r.run(ctx)
}

// Stop shuts the loop down and waits for an in-flight sweep to finish.
// A revocation that already started completes; the loop just stops
// picking up new keys.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	wait := time.Duration(0) // first sweep immediately
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("expiry reaper stopped", slog.String("reason", "context cancelled"))
			return
		case <-r.stop:
			r.logger.Info("expiry reaper stopped")
			return
		case <-time.After(wait):
		}

		if err := r.Sweep(ctx); err != nil {
			r.setState(StateBackoff)
			r.logger.Error("reaper sweep failed, backing off", slog.Any("error", err))
			wait = r.config.ErrorBackoff
			continue
		}

		r.setState(StateIdle)
		wait = r.config.Interval
	}
}

// Sweep runs one scan-and-retire pass. Exported so an operator command
// can force a pass outside the schedule.
func (r *Reaper) Sweep(ctx context.Context) error {
	r.setState(StateScanning)

	expired, err := r.store.ListExpiredActiveKeys(ctx, r.now())
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	r.setState(StateRevoking)
	r.logger.Info("retiring expired keys", slog.Int("count", len(expired)))

	for _, key := range expired {
		// Stop between keys, not mid-revocation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		default:
		}

		if err := r.retirer.Revoke(ctx, key.KeyName, "expired"); err != nil {
			// Left active; the next cycle picks it up again.
			r.logger.Error("failed to retire expired key", slog.Any("error", err),
				slog.String("key_name", key.KeyName))
			continue
		}
	}

	return nil
}

func (r *Reaper) setState(s State) {
	r.logger.Debug("reaper state", slog.String("state", string(s)))
}
