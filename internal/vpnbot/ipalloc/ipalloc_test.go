package ipalloc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedErrors "github.com/xam55/new-vpn-bot/internal/shared/errors"
)

type staticLister struct {
	addrs map[string]struct{}
	err   error
}

func (s *staticLister) ListPeerAddresses(context.Context) (map[string]struct{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.addrs, nil
}

func listerWith(addrs ...string) *staticLister {
	m := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return &staticLister{addrs: m}
}

func TestNextFreeReturnsLowest(t *testing.T) {
	alloc, err := New(listerWith("10.0.0.2", "10.0.0.3", "10.0.0.5"), "10.0.0.2", "10.0.0.254")
	require.NoError(t, err)

	addr, err := alloc.NextFree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.4", addr)
}

func TestNextFreeEmptyPool(t *testing.T) {
	alloc, err := New(listerWith(), "10.0.0.2", "10.0.0.254")
	require.NoError(t, err)

	addr, err := alloc.NextFree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", addr)
}

func TestNextFreeIgnoresOutOfRangeAddresses(t *testing.T) {
	alloc, err := New(listerWith("192.168.1.1", "10.0.0.2"), "10.0.0.2", "10.0.0.4")
	require.NoError(t, err)

	addr, err := alloc.NextFree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", addr)
}

func TestNextFreeExhausted(t *testing.T) {
	lister := listerWith()
	for i := 2; i <= 6; i++ {
		lister.addrs[fmt.Sprintf("10.0.0.%d", i)] = struct{}{}
	}
	alloc, err := New(lister, "10.0.0.2", "10.0.0.6")
	require.NoError(t, err)

	_, err = alloc.NextFree(context.Background())
	require.Error(t, err)
	assert.Equal(t, sharedErrors.ErrCodePoolExhausted, sharedErrors.GetErrorCode(err))
	assert.False(t, sharedErrors.IsRetryable(err))
}

func TestNextFreeListerFailure(t *testing.T) {
	alloc, err := New(&staticLister{err: errors.New("gateway down")}, "10.0.0.2", "10.0.0.254")
	require.NoError(t, err)

	_, err = alloc.NextFree(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")
}

func TestNewRejectsBadRange(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
	}{
		{"garbage start", "nope", "10.0.0.254"},
		{"garbage end", "10.0.0.2", "nope"},
		{"ipv6 start", "::1", "10.0.0.254"},
		{"inverted", "10.0.0.254", "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(listerWith(), tt.start, tt.end)
			require.Error(t, err)
			assert.Equal(t, sharedErrors.ErrCodeInvalidPoolRange, sharedErrors.GetErrorCode(err))
		})
	}
}

func TestSizeAndContains(t *testing.T) {
	alloc, err := New(listerWith(), "10.0.0.2", "10.0.0.254")
	require.NoError(t, err)

	assert.Equal(t, 253, alloc.Size())
	assert.True(t, alloc.Contains("10.0.0.2"))
	assert.True(t, alloc.Contains("10.0.0.254"))
	assert.False(t, alloc.Contains("10.0.1.1"))
	assert.False(t, alloc.Contains("bogus"))
}

func TestRangeCrossesOctetBoundary(t *testing.T) {
	alloc, err := New(listerWith("10.0.0.255"), "10.0.0.255", "10.0.1.1")
	require.NoError(t, err)

	addr, err := alloc.NextFree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0", addr)
	assert.Equal(t, 3, alloc.Size())
}
