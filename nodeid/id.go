// Package nodeid implements the 160-bit identifiers of the Mainline DHT
// and the XOR distance metric defined over them.
//
// Node identifiers and info hashes share the same space. The only
// meaningful order between identifiers is distance order: XOR two
// identifiers and compare the result as an unsigned big-endian integer.
//
//	target := nodeid.Random()
//	if nodeid.CompareDistance(target, a, b) < 0 {
//	    // a is closer to target than b
//	}
package nodeid

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/opd-ai/mainline/crypto"
)

// Size is the length of an identifier in bytes.
const Size = 20

// Bits is the length of an identifier in bits.
const Bits = Size * 8

var (
	// ErrInvalidLength is returned when raw input is not Size bytes long.
	ErrInvalidLength = errors.New("nodeid: invalid length")

	// ErrInvalidHex is returned when hex input cannot be decoded.
	ErrInvalidHex = errors.New("nodeid: invalid hex")
)

// ID is a 160-bit DHT identifier. The zero value is a valid identifier.
type ID [Size]byte

// FromBytes copies b into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

// FromString interprets a raw 20-byte string (as found in KRPC messages).
func FromString(s string) (ID, error) {
	return FromBytes([]byte(s))
}

// ParseHex decodes a 40-character hexadecimal identifier.
func ParseHex(s string) (ID, error) {
	var id ID
	if len(s) != Size*2 {
		return id, fmt.Errorf("%w: got %d hex characters, want %d", ErrInvalidLength, len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	copy(id[:], b)
	return id, nil
}

// MustParseHex is ParseHex for constants and tests.
func MustParseHex(s string) ID {
	id, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Random returns an identifier drawn uniformly from the whole space.
func Random() ID {
	var id ID
	crypto.MustReadRandom(id[:])
	return id
}

// RandomWithPrefix returns a random identifier whose first prefixBits
// bits equal those of prefix.
func RandomWithPrefix(prefix ID, prefixBits int) ID {
	if prefixBits <= 0 {
		return Random()
	}
	if prefixBits >= Bits {
		return prefix
	}

	id := Random()
	full := prefixBits / 8
	copy(id[:full], prefix[:full])
	if rem := prefixBits % 8; rem != 0 {
		mask := byte(0xff) << (8 - rem)
		id[full] = prefix[full]&mask | id[full]&^mask
	}
	return id
}

// String returns the lowercase hex encoding of the identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a copy of the identifier bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// RawString returns the identifier as a 20-byte binary string.
func (id ID) RawString() string {
	return string(id[:])
}

// IsZero reports whether every bit is zero.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Xor returns the bitwise XOR of two identifiers.
func (id ID) Xor(other ID) ID {
	var out ID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Distance is the Kademlia XOR distance between two identifiers.
func (id ID) Distance(other ID) ID {
	return id.Xor(other)
}

// Big interprets the identifier as an unsigned big-endian integer.
func (id ID) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Bit returns bit i, counting from the most significant bit.
func (id ID) Bit(i int) int {
	return int(id[i/8]>>(7-uint(i%8))) & 1
}

// WithBitFlipped returns a copy with bit i inverted.
func (id ID) WithBitFlipped(i int) ID {
	id[i/8] ^= 1 << (7 - uint(i%8))
	return id
}

// CommonPrefixLen returns the number of leading bits shared with other.
func (id ID) CommonPrefixLen(other ID) int {
	for i := range id {
		if x := id[i] ^ other[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return Bits
}

// Compare orders identifiers numerically.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// CompareDistance orders a and b by their distance to target: negative
// when a is closer, positive when b is closer, zero when equal.
func CompareDistance(target, a, b ID) int {
	for i := range target {
		da, db := a[i]^target[i], b[i]^target[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}
