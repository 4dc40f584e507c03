// Package krpc implements the KRPC message envelope used by the BitTorrent
// Mainline DHT (BEP 5) together with the compact node and peer encodings.
//
// Every KRPC message is a bencoded dictionary carried in a single UDP
// datagram. Queries, responses and errors share one Message type:
//
//	msg := krpc.NewQuery(tid, krpc.MethodFindNode, krpc.Args{
//	    ID:     self.RawString(),
//	    Target: target.RawString(),
//	})
//	data, err := krpc.Marshal(msg)
//
// Decoding validates the envelope shape (transaction id, message type,
// mandatory sender id) and reports every failure wrapped in ErrDecode so
// that callers can drop malformed traffic with a single errors.Is check.
//
// Bencoding itself is delegated to github.com/zeebo/bencode.
package krpc
