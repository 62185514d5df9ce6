// Package ipalloc hands out client addresses from a configured linear
// range. The live peer table on the gateway is the source of truth for
// which addresses are taken; the allocator never tracks state of its own.
package ipalloc

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
)

// PeerAddressLister enumerates the addresses currently bound to a peer on
// the gateway.
type PeerAddressLister interface {
	ListPeerAddresses(ctx context.Context) (map[string]struct{}, error)
}

// Allocator computes the next free address in [Start, End].
//
// Scanning the live peer set and then allocating is a check-then-act
// sequence: callers must serialize NextFree with the subsequent peer
// registration (the provisioning service holds a single-writer lock over
// the whole allocate-then-register step).
type Allocator struct {
	lister PeerAddressLister
	start  uint32
	end    uint32
}

// New creates an allocator over the inclusive IPv4 range [start, end].
func New(lister PeerAddressLister, start, end string) (*Allocator, error) {
	startIP := net.ParseIP(start)
	endIP := net.ParseIP(end)
	if startIP == nil || startIP.To4() == nil {
		return nil, sharedErrors.NewAddressPoolError(sharedErrors.ErrCodeInvalidPoolRange,
			fmt.Sprintf("invalid pool start %q", start), false, nil)
	}
	if endIP == nil || endIP.To4() == nil {
		return nil, sharedErrors.NewAddressPoolError(sharedErrors.ErrCodeInvalidPoolRange,
			fmt.Sprintf("invalid pool end %q", end), false, nil)
	}

	s := ipToUint32(startIP)
	e := ipToUint32(endIP)
	if s > e {
		return nil, sharedErrors.NewAddressPoolError(sharedErrors.ErrCodeInvalidPoolRange,
			fmt.Sprintf("pool start %s is after pool end %s", start, end), false, nil)
	}

	return &Allocator{lister: lister, start: s, end: e}, nil
}

// NextFree returns the lowest address in the range that is not currently
// bound to a peer on the gateway. Fails with a pool_exhausted error when
// every address is taken; exhaustion is terminal, not retryable.
func (a *Allocator) NextFree(ctx context.Context) (string, error) {
	used, err := a.lister.ListPeerAddresses(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list live peer addresses: %w", err)
	}

	for n := a.start; n <= a.end; n++ {
		addr := uint32ToIP(n).String()
		if _, taken := used[addr]; !taken {
			return addr, nil
		}
		if n == a.end {
			break
		}
	}

	return "", sharedErrors.NewAddressPoolError(sharedErrors.ErrCodePoolExhausted,
		fmt.Sprintf("all %d addresses in pool are allocated", a.Size()), false, nil)
}

// Size returns the number of addresses in the range.
func (a *Allocator) Size() int {
	return int(a.end-a.start) + 1
}

// Contains reports whether addr lies within the configured range.
func (a *Allocator) Contains(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return false
	}
	n := ipToUint32(ip)
	return n >= a.start && n <= a.end
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}
