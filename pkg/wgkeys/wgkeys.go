// Package wgkeys implements WireGuard key generation and validation on top
// of the curve25519 primitive, without shelling out to the wg tool.
package wgkeys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds a WireGuard key pair in the standard base64 encoding.
type KeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// Generate produces a fresh WireGuard key pair. Randomness is drawn from
// crypto/rand on every call and never reused.
func Generate() (*KeyPair, error) {
	priv := make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("failed to read random bytes for private key: %w", err)
	}

	// Clamp per the WireGuard specification.
	clamp(priv)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// DerivePublicKey derives the public key for a base64-encoded private key.
func DerivePublicKey(privateKey string) (string, error) {
	priv, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("private key is not valid base64: %w", err)
	}
	if len(priv) != 32 {
		return "", fmt.Errorf("private key has incorrect length: expected 32 bytes, got %d", len(priv))
	}

	clamp(priv)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(pub), nil
}

// clamp applies the WireGuard private key clamping in place.
func clamp(key []byte) {
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
}

// IsValidKey reports whether s looks like a WireGuard key: the base64
// encoding of exactly 32 bytes, which is always 44 characters.
func IsValidKey(s string) bool {
	if len(s) != 44 {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) == 32
}
