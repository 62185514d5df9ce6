package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/xam55/new-vpn-bot/internal/shared/logger"
)

// CommandResult represents the result of a remote command execution.
// A non-zero ExitCode is not a transport error: the command reached the
// host and the host answered.
type CommandResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Runner executes shell commands on the gateway host.
type Runner interface {
	Run(ctx context.Context, command string) (*CommandResult, error)
	Close() error
}

// RunnerConfig holds connection settings for the SSH runner.
type RunnerConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
}

type sshRunner struct {
	config    RunnerConfig
	addr      string
	sshConfig *ssh.ClientConfig
	logger    *logger.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner creates a Runner that executes commands over SSH. The
// connection is established lazily and re-established after failures.
func NewSSHRunner(config RunnerConfig, log *logger.Logger) (Runner, error) {
	keyBytes, err := os.ReadFile(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh private key: %w", err)
	}

	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 30 * time.Second
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}

	sshConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// TODO: pin the gateway host key once it is distributed with the config.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.DialTimeout,
	}

	return &sshRunner{
		config:    config,
		addr:      fmt.Sprintf("%s:%d", config.Host, config.Port),
		sshConfig: sshConfig,
		logger:    log,
	}, nil
}

// Run executes a command with retry on transport-level failures. Non-zero
// exit codes are returned in the result, not retried.
func (r *sshRunner) Run(ctx context.Context, command string) (*CommandResult, error) {
	var lastErr error

	for attempt := 0; attempt < r.config.RetryAttempts; attempt++ {
		result, err := r.runOnce(ctx, command)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableTransportError(err) {
			break
		}

		// Drop the cached connection so the next attempt redials.
		r.closeClient()

		if attempt < r.config.RetryAttempts-1 {
			backoff := r.config.RetryBackoff * time.Duration(1<<attempt)
			r.logger.Debug("ssh command failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("ssh command failed after %d attempts: %w", r.config.RetryAttempts, lastErr)
}

func (r *sshRunner) runOnce(ctx context.Context, command string) (*CommandResult, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	cmdCtx, cancel := context.WithTimeout(ctx, r.config.CommandTimeout)
	defer cancel()

	select {
	case <-cmdCtx.Done():
		return nil, cmdCtx.Err()
	case err = <-errCh:
	}

	result := &CommandResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("failed to run command: %w", err)
	}

	return result, nil
}

func (r *sshRunner) getClient() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ssh.Dial("tcp", r.addr, r.sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	r.logger.Debug("established ssh connection", slog.String("addr", r.addr))
	r.client = client
	return client, nil
}

func (r *sshRunner) closeClient() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

// Close tears down the cached SSH connection.
func (r *sshRunner) Close() error {
	r.closeClient()
	return nil
}

// isRetryableTransportError determines if a transport error is worth retrying
func isRetryableTransportError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryable := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"i/o timeout",
		"connection lost",
		"ssh: handshake failed",
		"failed to create ssh session",
	}

	for _, s := range retryable {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}
