package dht

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrTimeout completes a transaction that got no answer in time.
	ErrTimeout = errors.New("dht: transaction timed out")

	// ErrShutdown is returned by operations interrupted by shutdown.
	ErrShutdown = errors.New("dht: shutting down")

	// ErrReadOnly is returned when a read-only node is asked to announce.
	ErrReadOnly = errors.New("dht: node is read-only")

	// ErrNoResponse means a lookup got no answer from any node.
	ErrNoResponse = errors.New("dht: no node responded")

	// ErrAnnounceFailed means no token holder acknowledged an announce.
	ErrAnnounceFailed = errors.New("dht: no node acknowledged the announce")

	// ErrNodeIDMismatch completes a transaction whose responder reported
	// a different ID than the one we addressed.
	ErrNodeIDMismatch = errors.New("dht: responder reported an unexpected node id")

	// ErrTransactionsExhausted means no free transaction ID was found.
	ErrTransactionsExhausted = errors.New("dht: no free transaction id")

	// ErrInvalidSettings wraps every settings validation failure.
	ErrInvalidSettings = errors.New("dht: invalid settings")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("dht: already running")
)

// TransportError reports a failure of the datagram transport.
type TransportError struct {
	Op   string
	Addr netip.AddrPort
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr.IsValid() {
		return fmt.Sprintf("dht: %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("dht: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a KRPC error message received in reply to a query.
type ProtocolError struct {
	Addr    netip.AddrPort
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("dht: %s replied with error %d: %s", e.Addr, e.Code, e.Message)
}

// OperationError reports the failure of a whole operation such as a
// lookup or an announce.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("dht: %s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
