package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/internal/shared/logger"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes the gateway circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// BreakerRunner wraps a Runner with a circuit breaker. Only transport
// failures count against the circuit: a command that reached the host and
// returned a non-zero exit code proves the transport is healthy. While
// open, calls fail immediately with a retryable unreachable error instead
// of burning the full dial-and-retry ladder against a dead gateway.
type BreakerRunner struct {
	runner Runner
	logger *logger.Logger

	failureThreshold int
	resetTimeout     time.Duration

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	nextStateChange time.Time

	now func() time.Time
}

// NewBreakerRunner wraps a runner with circuit breaking.
func NewBreakerRunner(runner Runner, config BreakerConfig, log *logger.Logger) *BreakerRunner {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}

	return &BreakerRunner{
		runner:           runner,
		logger:           log,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// Run executes the command unless the circuit is open.
func (b *BreakerRunner) Run(ctx context.Context, command string) (*CommandResult, error) {
	if !b.allow() {
		return nil, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayUnreachable,
			"gateway circuit breaker is open", true, nil)
	}

	result, err := b.runner.Run(ctx, command)
	if err != nil {
		b.onFailure()
		return nil, err
	}

	b.onSuccess()
	return result, nil
}

// Close closes the underlying runner.
func (b *BreakerRunner) Close() error {
	return b.runner.Close()
}

// State returns the breaker's current state, for health reporting.
func (b *BreakerRunner) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerRunner) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().After(b.nextStateChange) {
			b.logger.Info("gateway circuit breaker entering half-open state")
			b.state = BreakerHalfOpen
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

func (b *BreakerRunner) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == BreakerHalfOpen {
		b.logger.Info("gateway circuit breaker closing after successful command")
		b.state = BreakerClosed
	}
}

func (b *BreakerRunner) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++

	if b.state == BreakerHalfOpen {
		b.logger.Warn("gateway circuit breaker reopening after failed probe")
		b.state = BreakerOpen
		b.nextStateChange = b.now().Add(b.resetTimeout)
		return
	}

	if b.failureCount >= b.failureThreshold {
		b.logger.Warn("gateway circuit breaker opening",
			slog.Int("failure_count", b.failureCount),
			slog.Int("threshold", b.failureThreshold),
			slog.Duration("reset_timeout", b.resetTimeout))
		b.state = BreakerOpen
		b.nextStateChange = b.now().Add(b.resetTimeout)
	}
}
