package gateway

import (
	"fmt"
	"strconv"
	"strings"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/pkg/wgkeys"
)

// parsePeerTable parses `wg show <iface> allowed-ips` output. Each line is
// "<public-key>\t<allowed-ips...>"; a peer with no allowed ips shows
// "(none)".
func parsePeerTable(out string) ([]Peer, error) {
	var peers []Peer

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayConfigMalformed,
				fmt.Sprintf("unparseable peer table line %q", line), false, nil)
		}
		if !wgkeys.IsValidKey(fields[0]) {
			return nil, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayConfigMalformed,
				fmt.Sprintf("peer table line has invalid public key %q", fields[0]), false, nil)
		}

		peer := Peer{PublicKey: fields[0]}
		if fields[1] != "(none)" {
			// First allowed-ip is the client address; strip the /32 mask.
			peer.Address = strings.SplitN(fields[1], "/", 2)[0]
		}
		peers = append(peers, peer)
	}

	return peers, nil
}

// parseInterfaceSection extracts PrivateKey and ListenPort from a wg-quick
// configuration file's [Interface] section.
func parseInterfaceSection(conf string) (privateKey string, listenPort int, err error) {
	inInterface := false

	for _, line := range strings.Split(conf, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			inInterface = strings.EqualFold(line, "[Interface]")
			continue
		}
		if !inInterface {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "PrivateKey":
			privateKey = value
		case "ListenPort":
			port, convErr := strconv.Atoi(value)
			if convErr != nil {
				return "", 0, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayConfigMalformed,
					fmt.Sprintf("unparseable ListenPort %q", value), false, convErr)
			}
			listenPort = port
		}
	}

	if privateKey == "" {
		return "", 0, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayConfigMalformed,
			"gateway config has no PrivateKey in [Interface]", false, nil)
	}
	if listenPort == 0 {
		return "", 0, sharedErrors.NewGatewayError(sharedErrors.ErrCodeGatewayConfigMalformed,
			"gateway config has no ListenPort in [Interface]", false, nil)
	}

	return privateKey, listenPort, nil
}
