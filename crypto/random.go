package crypto

import (
	"crypto/rand"
	"fmt"
)

// ReadRandom fills buf from the system CSPRNG.
func ReadRandom(buf []byte) error {
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("crypto: reading random bytes: %w", err)
	}
	return nil
}

// MustReadRandom is ReadRandom for callers that cannot recover from an
// exhausted entropy source.
func MustReadRandom(buf []byte) {
	if err := ReadRandom(buf); err != nil {
		panic(err)
	}
}
