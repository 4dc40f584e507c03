// Package crypto provides the random sources and announce token secrets
// used by a DHT node.
//
// # Random Data
//
// ReadRandom and MustReadRandom fill buffers from the system CSPRNG. They
// back node ID generation and KRPC transaction IDs.
//
// # Announce Tokens
//
// A node hands out a token with every get_peers response and requires it
// back in announce_peer. Tokens are a BLAKE2b-256 MAC of the querier's IP
// address under a secret, truncated to eight bytes:
//
//	secrets, err := crypto.NewTokenSecrets(5*time.Minute, clock.New())
//	token := secrets.Issue(addr)
//	ok := secrets.Validate(token, addr)
//
// Rotate replaces the secret once the rotation period has elapsed. The
// previous secret stays valid for one more period, so a token is accepted
// for between one and two periods after issue. Tokens are bound to the IP
// address only; a peer may announce from any port.
package crypto
