// Package transport owns the datagram socket a DHT node speaks KRPC over.
//
// The Transport interface is deliberately small: a node sends whole
// datagrams to an IPv4 endpoint and pulls inbound datagrams one at a time
// with a bounded wait, so the caller's receive loop can notice shutdown
// between reads.
//
//	tr, err := transport.NewUDPTransport("0.0.0.0:6881")
//	if err != nil {
//	    return err
//	}
//	defer tr.Close()
//
//	buf := make([]byte, limits.MaxDatagramSize)
//	n, from, err := tr.Receive(buf, 100*time.Millisecond)
//	if transport.IsTimeout(err) {
//	    // nothing arrived, check for shutdown and loop
//	}
//
// Addresses are netip.AddrPort values; IPv4-mapped IPv6 addresses are
// unmapped before they reach the caller. Package simnet provides an
// in-memory implementation for tests.
package transport
