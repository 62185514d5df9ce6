// Package clientconf renders the WireGuard configuration file handed to a
// client after a successful purchase. Rendering is pure: the same params
// always produce the same bytes.
package clientconf

import (
	"fmt"
	"net"
	"strings"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/pkg/wgkeys"
)

// Params carries everything needed to render a client config.
type Params struct {
	ClientPrivateKey string
	ClientAddress    string
	MaskBits         int
	DNSServers       []string
	ServerPublicKey  string
	EndpointHost     string
	EndpointPort     int
	KeepaliveSeconds int
}

// Render produces the client-side wg-quick configuration. The client
// routes all traffic through the tunnel (AllowedIPs 0.0.0.0/0) and keeps
// the NAT mapping alive with a persistent keepalive.
func Render(p Params) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Interface]\n")
	fmt.Fprintf(&sb, "PrivateKey = %s\n", p.ClientPrivateKey)
	fmt.Fprintf(&sb, "Address = %s/%d\n", p.ClientAddress, p.MaskBits)
	fmt.Fprintf(&sb, "DNS = %s\n", strings.Join(p.DNSServers, ", "))
	fmt.Fprintf(&sb, "\n")
	fmt.Fprintf(&sb, "[Peer]\n")
	fmt.Fprintf(&sb, "PublicKey = %s\n", p.ServerPublicKey)
	fmt.Fprintf(&sb, "Endpoint = %s:%d\n", p.EndpointHost, p.EndpointPort)
	fmt.Fprintf(&sb, "AllowedIPs = 0.0.0.0/0\n")
	fmt.Fprintf(&sb, "PersistentKeepalive = %d\n", p.KeepaliveSeconds)

	return sb.String(), nil
}

func validate(p Params) error {
	if !wgkeys.IsValidKey(p.ClientPrivateKey) {
		return renderErr("client private key is not a valid WireGuard key")
	}
	if !wgkeys.IsValidKey(p.ServerPublicKey) {
		return renderErr("server public key is not a valid WireGuard key")
	}
	if ip := net.ParseIP(p.ClientAddress); ip == nil || ip.To4() == nil {
		return renderErr(fmt.Sprintf("invalid client address %q", p.ClientAddress))
	}
	if p.MaskBits < 1 || p.MaskBits > 32 {
		return renderErr(fmt.Sprintf("invalid mask bits %d", p.MaskBits))
	}
	if len(p.DNSServers) == 0 {
		return renderErr("at least one DNS server is required")
	}
	for _, dns := range p.DNSServers {
		if net.ParseIP(dns) == nil {
			return renderErr(fmt.Sprintf("invalid DNS server %q", dns))
		}
	}
	if p.EndpointHost == "" {
		return renderErr("endpoint host is required")
	}
	if p.EndpointPort < 1 || p.EndpointPort > 65535 {
		return renderErr(fmt.Sprintf("invalid endpoint port %d", p.EndpointPort))
	}
	if p.KeepaliveSeconds < 1 {
		return renderErr(fmt.Sprintf("invalid keepalive %d", p.KeepaliveSeconds))
	}
	return nil
}

func renderErr(msg string) error {
	return sharedErrors.NewProvisioningError(sharedErrors.ErrCodeClientConfigRender, msg, false, nil)
}
