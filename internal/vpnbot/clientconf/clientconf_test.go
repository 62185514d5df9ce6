package clientconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
	"github.com/xam55/new-vpn-bot/pkg/wgkeys"
)

func validParams(t *testing.T) Params {
	t.Helper()
	client, err := wgkeys.Generate()
	require.NoError(t, err)
	server, err := wgkeys.Generate()
	require.NoError(t, err)

	return Params{
		ClientPrivateKey: client.PrivateKey,
		ClientAddress:    "10.0.0.7",
		MaskBits:         24,
		DNSServers:       []string{"1.1.1.1", "8.8.8.8"},
		ServerPublicKey:  server.PublicKey,
		EndpointHost:     "203.0.113.10",
		EndpointPort:     51820,
		KeepaliveSeconds: 25,
	}
}

func TestRender(t *testing.T) {
	p := validParams(t)

	conf, err := Render(p)
	require.NoError(t, err)

	want := "[Interface]\n" +
		"PrivateKey = " + p.ClientPrivateKey + "\n" +
		"Address = 10.0.0.7/24\n" +
		"DNS = 1.1.1.1, 8.8.8.8\n" +
		"\n" +
		"[Peer]\n" +
		"PublicKey = " + p.ServerPublicKey + "\n" +
		"Endpoint = 203.0.113.10:51820\n" +
		"AllowedIPs = 0.0.0.0/0\n" +
		"PersistentKeepalive = 25\n"
	assert.Equal(t, want, conf)
}

func TestRenderDeterministic(t *testing.T) {
	p := validParams(t)

	first, err := Render(p)
	require.NoError(t, err)
	second, err := Render(p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRenderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"bad private key", func(p *Params) { p.ClientPrivateKey = "nope" }},
		{"bad server key", func(p *Params) { p.ServerPublicKey = "nope" }},
		{"bad address", func(p *Params) { p.ClientAddress = "10.0.0" }},
		{"ipv6 address", func(p *Params) { p.ClientAddress = "::1" }},
		{"zero mask", func(p *Params) { p.MaskBits = 0 }},
		{"oversized mask", func(p *Params) { p.MaskBits = 33 }},
		{"no dns", func(p *Params) { p.DNSServers = nil }},
		{"bad dns", func(p *Params) { p.DNSServers = []string{"one.one.one.one"} }},
		{"no endpoint host", func(p *Params) { p.EndpointHost = "" }},
		{"bad endpoint port", func(p *Params) { p.EndpointPort = 0 }},
		{"zero keepalive", func(p *Params) { p.KeepaliveSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams(t)
			tt.mutate(&p)

			_, err := Render(p)
			require.Error(t, err)
			assert.Equal(t, sharedErrors.ErrCodeClientConfigRender, sharedErrors.GetErrorCode(err))
		})
	}
}
