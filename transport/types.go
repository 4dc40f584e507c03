package transport

import (
	"errors"
	"net"
	"net/netip"
	"time"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: closed")

// Transport moves raw datagrams between the local node and remote
// endpoints.
type Transport interface {
	// Send transmits one datagram to addr.
	Send(data []byte, addr netip.AddrPort) error

	// Receive waits at most timeout for a datagram, copies it into buf
	// and returns its length and source. When nothing arrives in time
	// the error satisfies IsTimeout.
	Receive(buf []byte, timeout time.Duration) (int, netip.AddrPort, error)

	// LocalAddr returns the bound address.
	LocalAddr() netip.AddrPort

	// Close releases the socket. Blocked and later calls fail with ErrClosed.
	Close() error
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "transport: receive timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ErrReceiveTimeout is the timeout error returned by in-memory transports.
// UDP transports return the underlying net.Error instead.
var ErrReceiveTimeout net.Error = timeoutError{}

// IsTimeout reports whether err is a receive timeout.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
