package krpc

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"github.com/opd-ai/mainline/limits"
	"github.com/opd-ai/mainline/nodeid"
)

// NodeInfo is a node identity as exchanged on the wire. It is comparable
// and can be used as a map key.
type NodeInfo struct {
	ID   nodeid.ID
	Addr netip.AddrPort
}

// NewNodeInfo builds a NodeInfo, normalizing IPv4-mapped addresses.
func NewNodeInfo(id nodeid.ID, addr netip.AddrPort) NodeInfo {
	return NodeInfo{ID: id, Addr: NormalizeAddr(addr)}
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("%s@%s", n.ID, n.Addr)
}

// NormalizeAddr unmaps IPv4-in-IPv6 addresses so that equal endpoints
// compare equal.
func NormalizeAddr(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// EncodeCompactAddr encodes an IPv4 endpoint as 6 bytes.
func EncodeCompactAddr(addr netip.AddrPort) (string, error) {
	ip := addr.Addr().Unmap()
	if !ip.Is4() {
		return "", fmt.Errorf("%w: %s", ErrNotIPv4, addr)
	}
	var b [limits.CompactPeerSize]byte
	a4 := ip.As4()
	copy(b[:4], a4[:])
	binary.BigEndian.PutUint16(b[4:], addr.Port())
	return string(b[:]), nil
}

// DecodeCompactAddr decodes a 6-byte IPv4 endpoint.
func DecodeCompactAddr(s string) (netip.AddrPort, error) {
	if len(s) != limits.CompactPeerSize {
		return netip.AddrPort{}, fmt.Errorf("%w: compact address has %d bytes", ErrDecode, len(s))
	}
	var a4 [4]byte
	copy(a4[:], s[:4])
	port := binary.BigEndian.Uint16([]byte(s[4:6]))
	return netip.AddrPortFrom(netip.AddrFrom4(a4), port), nil
}

// EncodeCompactNodes concatenates 26-byte node entries. Nodes without an
// IPv4 address are skipped.
func EncodeCompactNodes(nodes []NodeInfo) string {
	var sb strings.Builder
	sb.Grow(len(nodes) * limits.CompactNodeSize)
	for _, n := range nodes {
		addr, err := EncodeCompactAddr(n.Addr)
		if err != nil {
			continue
		}
		sb.Write(n.ID[:])
		sb.WriteString(addr)
	}
	return sb.String()
}

// DecodeCompactNodes splits a compact node string. Entries with port 0 or
// an unspecified address are dropped; at most limits.MaxCompactNodes are
// returned.
func DecodeCompactNodes(s string) ([]NodeInfo, error) {
	if len(s)%limits.CompactNodeSize != 0 {
		return nil, fmt.Errorf("%w: node list length %d is not a multiple of %d",
			ErrDecode, len(s), limits.CompactNodeSize)
	}

	count := len(s) / limits.CompactNodeSize
	if count > limits.MaxCompactNodes {
		count = limits.MaxCompactNodes
	}

	nodes := make([]NodeInfo, 0, count)
	for i := 0; i < count; i++ {
		entry := s[i*limits.CompactNodeSize : (i+1)*limits.CompactNodeSize]
		id, err := nodeid.FromString(entry[:nodeid.Size])
		if err != nil {
			continue
		}
		addr, err := DecodeCompactAddr(entry[nodeid.Size:])
		if err != nil || !ValidEndpoint(addr) {
			continue
		}
		nodes = append(nodes, NodeInfo{ID: id, Addr: addr})
	}
	return nodes, nil
}

// EncodeCompactPeers encodes peers for a get_peers "values" list.
func EncodeCompactPeers(peers []netip.AddrPort) []string {
	values := make([]string, 0, len(peers))
	for _, p := range peers {
		v, err := EncodeCompactAddr(p)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// DecodeCompactPeers decodes a "values" list, skipping malformed entries.
func DecodeCompactPeers(values []string) []netip.AddrPort {
	if len(values) > limits.MaxCompactPeers {
		values = values[:limits.MaxCompactPeers]
	}
	peers := make([]netip.AddrPort, 0, len(values))
	for _, v := range values {
		addr, err := DecodeCompactAddr(v)
		if err != nil || !ValidEndpoint(addr) {
			continue
		}
		peers = append(peers, addr)
	}
	return peers
}

// ValidEndpoint rejects endpoints no datagram can be sent to.
func ValidEndpoint(addr netip.AddrPort) bool {
	ip := addr.Addr()
	return addr.Port() != 0 && ip.IsValid() && !ip.IsUnspecified() && !ip.IsMulticast()
}
