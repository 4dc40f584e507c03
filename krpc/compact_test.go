package krpc

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/opd-ai/mainline/limits"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAddrPort(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func peersFrom(addrs ...string) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, mustAddrPort(a))
	}
	return out
}

func TestCompactAddrLayout(t *testing.T) {
	s, err := EncodeCompactAddr(mustAddrPort("1.2.3.4:6881"))
	require.NoError(t, err)
	assert.Equal(t, "\x01\x02\x03\x04\x1a\xe1", s)

	addr, err := DecodeCompactAddr(s)
	require.NoError(t, err)
	assert.Equal(t, mustAddrPort("1.2.3.4:6881"), addr)
}

func TestCompactAddrRejectsIPv6(t *testing.T) {
	_, err := EncodeCompactAddr(mustAddrPort("[2001:db8::1]:6881"))
	assert.ErrorIs(t, err, ErrNotIPv4)

	mapped := netip.AddrPortFrom(netip.AddrFrom16(netip.MustParseAddr("1.2.3.4").As16()), 80)
	_, err = EncodeCompactAddr(mapped)
	assert.NoError(t, err, "IPv4-mapped addresses are encodable")
}

func TestCompactNodes(t *testing.T) {
	nodes := []NodeInfo{
		{ID: nodeid.Random(), Addr: mustAddrPort("10.0.0.1:1000")},
		{ID: nodeid.Random(), Addr: mustAddrPort("[2001:db8::1]:1000")},
		{ID: nodeid.Random(), Addr: mustAddrPort("10.0.0.2:2000")},
	}

	encoded := EncodeCompactNodes(nodes)
	assert.Len(t, encoded, 2*limits.CompactNodeSize, "IPv6 node must be skipped")

	decoded, err := DecodeCompactNodes(encoded)
	require.NoError(t, err)
	assert.Equal(t, []NodeInfo{nodes[0], nodes[2]}, decoded)
}

func TestDecodeCompactNodesErrors(t *testing.T) {
	_, err := DecodeCompactNodes(strings.Repeat("x", limits.CompactNodeSize+1))
	assert.ErrorIs(t, err, ErrDecode)

	// Port zero entries are dropped silently.
	zeroPort := nodeid.Random().RawString() + "\x0a\x00\x00\x01\x00\x00"
	nodes, err := DecodeCompactNodes(zeroPort)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	// Oversized lists are truncated.
	one := EncodeCompactNodes([]NodeInfo{{ID: nodeid.Random(), Addr: mustAddrPort("10.0.0.1:1")}})
	nodes, err = DecodeCompactNodes(strings.Repeat(one, limits.MaxCompactNodes+5))
	require.NoError(t, err)
	assert.Len(t, nodes, limits.MaxCompactNodes)
}

func TestDecodeCompactPeersSkipsMalformed(t *testing.T) {
	values := EncodeCompactPeers(peersFrom("192.0.2.1:80", "192.0.2.2:81"))
	values = append(values, "short", "\x00\x00\x00\x00\x00\x50")

	assert.Equal(t, peersFrom("192.0.2.1:80", "192.0.2.2:81"), DecodeCompactPeers(values))
}

func TestNewNodeInfoNormalizes(t *testing.T) {
	id := nodeid.Random()
	mapped := netip.AddrPortFrom(netip.AddrFrom16(netip.MustParseAddr("1.2.3.4").As16()), 80)
	assert.Equal(t, NodeInfo{ID: id, Addr: mustAddrPort("1.2.3.4:80")}, NewNodeInfo(id, mapped))
}
