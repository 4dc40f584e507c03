// Package limits provides centralized size limits for KRPC traffic. The
// DHT engine, the KRPC codec and the transports all validate against
// these values so that a single remote peer cannot make the node
// allocate or retain unbounded memory.
//
// # Size Hierarchy
//
//   - MaxDatagramSize (2048 bytes): the largest datagram the engine reads.
//     Mainline KRPC messages stay well under the Ethernet MTU; anything
//     longer is truncated by the socket and fails to decode.
//
//   - MaxTokenLength (64 bytes): the longest opaque announce token kept
//     from a remote get_peers response.
//
//   - MaxCompactNodes / MaxCompactPeers: how many entries of a node or
//     peer list are decoded from a single response.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagram(buf[:n]); err != nil {
//	    // ErrDatagramEmpty or ErrDatagramTooLarge
//	}
package limits
