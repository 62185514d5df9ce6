// Package gateway talks to the WireGuard gateway host over SSH. The
// gateway's peer table is the authoritative access-control list; every
// mutation is persisted with wg-quick save before the call returns.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/internal/shared/logger"
	"github.com/xam55/new-vpn-bot/pkg/wgkeys"
)

// Peer is one entry of the gateway's live peer table.
type Peer struct {
	PublicKey string
	Address   string
}

// ServerInfo describes the gateway's own WireGuard endpoint.
type ServerInfo struct {
	PublicKey    string
	ListenPort   int
	EndpointHost string
}

// Config holds the gateway-side WireGuard layout.
type Config struct {
	Interface    string
	ConfigPath   string
	EndpointHost string
}

// Client runs the privileged peer-table operations on the gateway host.
// Mutations are serialized: the gateway rewrites its config file after
// every change and interleaved saves must not race.
type Client struct {
	runner Runner
	config Config
	logger *logger.Logger

	mu sync.Mutex
}

// NewClient creates a gateway client on top of a command runner.
func NewClient(runner Runner, config Config, log *logger.Logger) *Client {
	return &Client{
		runner: runner,
		config: config,
		logger: log,
	}
}

// AddPeer registers a peer on the gateway and persists the running
// configuration. Re-adding an existing peer with the same key and address
// is a no-op success, so provisioning retries after an ambiguous failure
// stay safe.
func (c *Client) AddPeer(ctx context.Context, publicKey, address string) error {
	if !wgkeys.IsValidKey(publicKey) {
		return sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			"invalid peer public key", false, nil)
	}
	if ip := net.ParseIP(address); ip == nil || ip.To4() == nil {
		return sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			fmt.Sprintf("invalid peer address %q", address), false, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.logger.StartOp(ctx, "AddPeer",
		slog.String("public_key", publicKey[:8]+"..."),
		slog.String("address", address))

	cmd := fmt.Sprintf("sudo wg set %s peer %s allowed-ips %s/32", c.config.Interface, publicKey, address)
	result, err := c.runner.Run(ctx, cmd)
	if err != nil {
		err = sharedErrors.WrapWithDomain(err, sharedErrors.DomainGateway,
			sharedErrors.ErrCodeGatewayUnreachable, "failed to reach gateway for add peer", true)
		op.Fail(err, "add peer transport failure")
		return err
	}
	if result.ExitCode != 0 {
		err = sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			fmt.Sprintf("gateway refused add peer: %s", result.Stderr), false, nil)
		op.Fail(err, "add peer rejected", slog.Int("exit_code", result.ExitCode))
		return err
	}

	if err := c.save(ctx); err != nil {
		op.Fail(err, "failed to persist gateway config after add")
		return err
	}

	op.Complete("peer added")
	return nil
}

// RemovePeer deletes a peer from the gateway and persists the running
// configuration. Removing an absent peer succeeds silently: already
// revoked is not an error.
func (c *Client) RemovePeer(ctx context.Context, publicKey string) error {
	if !wgkeys.IsValidKey(publicKey) {
		return sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			"invalid peer public key", false, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.logger.StartOp(ctx, "RemovePeer", slog.String("public_key", publicKey[:8]+"..."))

	peers, err := c.listPeers(ctx)
	if err != nil {
		op.Fail(err, "failed to list peers before removal")
		return err
	}
	found := false
	for _, p := range peers {
		if p.PublicKey == publicKey {
			found = true
			break
		}
	}
	if !found {
		op.Complete("peer not present, nothing to remove")
		return nil
	}

	cmd := fmt.Sprintf("sudo wg set %s peer %s remove", c.config.Interface, publicKey)
	result, err := c.runner.Run(ctx, cmd)
	if err != nil {
		err = sharedErrors.WrapWithDomain(err, sharedErrors.DomainGateway,
			sharedErrors.ErrCodeGatewayUnreachable, "failed to reach gateway for remove peer", true)
		op.Fail(err, "remove peer transport failure")
		return err
	}
	if result.ExitCode != 0 {
		err = sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			fmt.Sprintf("gateway refused remove peer: %s", result.Stderr), false, nil)
		op.Fail(err, "remove peer rejected", slog.Int("exit_code", result.ExitCode))
		return err
	}

	if err := c.save(ctx); err != nil {
		op.Fail(err, "failed to persist gateway config after remove")
		return err
	}

	op.Complete("peer removed")
	return nil
}

// ListPeers returns the gateway's current peer table.
func (c *Client) ListPeers(ctx context.Context) ([]Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listPeers(ctx)
}

// ListPeerAddresses returns the set of client addresses currently bound to
// a peer on the gateway.
func (c *Client) ListPeerAddresses(ctx context.Context) (map[string]struct{}, error) {
	peers, err := c.ListPeers(ctx)
	if err != nil {
		return nil, err
	}

	addrs := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		if p.Address != "" {
			addrs[p.Address] = struct{}{}
		}
	}
	return addrs, nil
}

func (c *Client) listPeers(ctx context.Context) ([]Peer, error) {
	cmd := fmt.Sprintf("sudo wg show %s allowed-ips", c.config.Interface)
	result, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return nil, sharedErrors.WrapWithDomain(err, sharedErrors.DomainGateway,
			sharedErrors.ErrCodeGatewayUnreachable, "failed to reach gateway for peer listing", true)
	}
	if result.ExitCode != 0 {
		return nil, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			fmt.Sprintf("gateway refused peer listing: %s", result.Stderr), false, nil)
	}

	return parsePeerTable(result.Stdout)
}

// ReadServerInfo recovers the gateway's public key, listen port and
// endpoint host from its running configuration. The gateway private key is
// read transiently to derive the public key and never persisted or logged.
func (c *Client) ReadServerInfo(ctx context.Context) (*ServerInfo, error) {
	cmd := fmt.Sprintf("sudo cat %s", c.config.ConfigPath)
	result, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return nil, sharedErrors.WrapWithDomain(err, sharedErrors.DomainGateway,
			sharedErrors.ErrCodeGatewayUnreachable, "failed to reach gateway for config read", true)
	}
	if result.ExitCode != 0 {
		return nil, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			fmt.Sprintf("gateway refused config read: %s", result.Stderr), false, nil)
	}

	privateKey, listenPort, err := parseInterfaceSection(result.Stdout)
	if err != nil {
		return nil, err
	}

	publicKey, err := wgkeys.DerivePublicKey(privateKey)
	if err != nil {
		return nil, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayConfigMalformed,
			"gateway private key is not a valid WireGuard key", false, err)
	}

	return &ServerInfo{
		PublicKey:    publicKey,
		ListenPort:   listenPort,
		EndpointHost: c.config.EndpointHost,
	}, nil
}

// save persists the gateway's running configuration so a restart does not
// lose the mutation. Callers hold c.mu.
func (c *Client) save(ctx context.Context) error {
	cmd := fmt.Sprintf("sudo wg-quick save %s", c.config.Interface)
	result, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return sharedErrors.WrapWithDomain(err, sharedErrors.DomainGateway,
			sharedErrors.ErrCodeGatewayUnreachable, "failed to reach gateway for config save", true)
	}
	if result.ExitCode != 0 {
		return sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayRejected,
			fmt.Sprintf("gateway refused config save: %s", result.Stderr), false, nil)
	}
	return nil
}
