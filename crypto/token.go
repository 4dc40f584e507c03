package crypto

import (
	"crypto/subtle"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/blake2b"
)

// TokenSize is the length of an announce token handed out in get_peers responses.
const TokenSize = 8

const secretSize = 32

// ErrInvalidRotation is returned when a token rotation period is not positive.
var ErrInvalidRotation = errors.New("token rotation period must be positive")

// TokenSecrets issues and validates announce tokens.
//
// A token is a keyed BLAKE2b hash of the requester's IP address. The key
// rotates every RotationPeriod; tokens minted under the previous key stay
// valid until the next rotation, so a token lives between one and two
// rotation periods.
type TokenSecrets struct {
	mu             sync.Mutex
	current        [secretSize]byte
	previous       [secretSize]byte
	rotatedAt      time.Time
	rotationPeriod time.Duration
	clock          clock.Clock
}

// NewTokenSecrets creates a token issuer with a fresh random secret.
func NewTokenSecrets(rotationPeriod time.Duration, clk clock.Clock) (*TokenSecrets, error) {
	if rotationPeriod <= 0 {
		return nil, ErrInvalidRotation
	}
	if clk == nil {
		clk = clock.New()
	}

	ts := &TokenSecrets{
		rotationPeriod: rotationPeriod,
		clock:          clk,
		rotatedAt:      clk.Now(),
	}
	if err := ReadRandom(ts.current[:]); err != nil {
		return nil, err
	}
	ts.previous = ts.current
	return ts, nil
}

// Issue returns the token for the given address under the current secret.
func (ts *TokenSecrets) Issue(addr netip.Addr) []byte {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.maybeRotate()
	return mint(ts.current, addr)
}

// Validate reports whether token was issued to addr under the current or
// the previous secret.
func (ts *TokenSecrets) Validate(token []byte, addr netip.Addr) bool {
	if len(token) != TokenSize {
		return false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.maybeRotate()
	if subtle.ConstantTimeCompare(token, mint(ts.current, addr)) == 1 {
		return true
	}
	return subtle.ConstantTimeCompare(token, mint(ts.previous, addr)) == 1
}

// Rotate replaces the current secret immediately if the rotation period
// has elapsed. It returns true when a rotation happened.
func (ts *TokenSecrets) Rotate() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.maybeRotate()
}

func (ts *TokenSecrets) maybeRotate() bool {
	now := ts.clock.Now()
	if now.Sub(ts.rotatedAt) < ts.rotationPeriod {
		return false
	}

	var next [secretSize]byte
	if err := ReadRandom(next[:]); err != nil {
		// Keep serving the old secret rather than failing requests.
		return false
	}
	ts.previous = ts.current
	ts.current = next
	ts.rotatedAt = now
	return true
}

func mint(secret [secretSize]byte, addr netip.Addr) []byte {
	h, err := blake2b.New256(secret[:])
	if err != nil {
		// Only possible for keys longer than 64 bytes.
		panic(err)
	}
	ip := addr.Unmap().AsSlice()
	h.Write(ip)
	sum := h.Sum(nil)
	return sum[:TokenSize]
}
