package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the receive buffer size and the largest datagram
	// the engine will try to decode or send.
	MaxDatagramSize = 2048

	// MaxTokenLength bounds remote announce tokens. BEP 5 leaves the
	// length to the issuer; real clients use 4 to 20 bytes.
	MaxTokenLength = 64

	// MaxCompactNodes is the most node entries decoded from one response.
	MaxCompactNodes = 64

	// MaxCompactPeers is the most peer entries decoded from one response.
	MaxCompactPeers = 256

	// CompactNodeSize is a 20-byte ID, a 4-byte IPv4 address and a port.
	CompactNodeSize = 26

	// CompactPeerSize is a 4-byte IPv4 address and a port.
	CompactPeerSize = 6
)

var (
	// ErrDatagramEmpty indicates a zero-length datagram.
	ErrDatagramEmpty = errors.New("empty datagram")

	// ErrDatagramTooLarge indicates a datagram over MaxDatagramSize.
	ErrDatagramTooLarge = errors.New("datagram too large")

	// ErrTokenTooLong indicates an announce token over MaxTokenLength.
	ErrTokenTooLong = errors.New("token too long")
)

// ValidateSize checks data against an arbitrary limit.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrDatagramEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDatagramTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateDatagram checks a datagram against MaxDatagramSize.
func ValidateDatagram(data []byte) error {
	return ValidateSize(data, MaxDatagramSize)
}

// ValidateToken checks a remote announce token. Empty tokens are allowed
// here; whether one is required is a protocol decision.
func ValidateToken(token string) error {
	if len(token) > MaxTokenLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrTokenTooLong, len(token), MaxTokenLength)
	}
	return nil
}
