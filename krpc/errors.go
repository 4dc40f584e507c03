package krpc

import "errors"

var (
	// ErrDecode wraps every failure to turn a datagram into a Message.
	ErrDecode = errors.New("krpc: decode error")

	// ErrEncode wraps failures to serialize a Message.
	ErrEncode = errors.New("krpc: encode error")

	// ErrNotIPv4 is returned when an address cannot be encoded compactly.
	ErrNotIPv4 = errors.New("krpc: address is not IPv4")
)
