package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/mainline/limits"
	"github.com/sirupsen/logrus"
)

// UDPTransport sends and receives KRPC datagrams on an IPv4 UDP socket.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn      *net.UDPConn
	localAddr netip.AddrPort
	sendMu    sync.Mutex
	recvMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewUDPTransport binds an IPv4 UDP socket on listenAddr
// ("host:port", port 0 picks a free port).
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewUDPTransport",
		"listen_addr": listenAddr,
	}).Debug("Binding UDP socket")

	udpAddr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving %q: %w", listenAddr, err)
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %q: %w", listenAddr, err)
	}

	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	t := &UDPTransport{
		conn:      conn,
		localAddr: netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": t.localAddr.String(),
	}).Info("UDP transport bound")

	return t, nil
}

// Send transmits data to addr. Concurrent sends are serialized.
func (t *UDPTransport) Send(data []byte, addr netip.AddrPort) error {
	if err := limits.ValidateDatagram(data); err != nil {
		return err
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	if !addr.Addr().Is4() {
		return fmt.Errorf("transport: %s is not an IPv4 endpoint", addr)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if _, err := t.conn.WriteToUDPAddrPort(data, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive reads one datagram, waiting at most timeout.
func (t *UDPTransport) Receive(buf []byte, timeout time.Duration) (int, netip.AddrPort, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, netip.AddrPort{}, t.handleReadError(err)
	}

	n, from, err := t.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, t.handleReadError(err)
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

// handleReadError maps socket errors onto the transport's error contract.
func (t *UDPTransport) handleReadError(err error) error {
	if IsTimeout(err) {
		return err
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}

	logrus.WithFields(logrus.Fields{
		"function": "Receive",
		"error":    err.Error(),
	}).Warn("UDP read failed")
	return err
}

// LocalAddr returns the address the socket is bound to.
func (t *UDPTransport) LocalAddr() netip.AddrPort {
	return t.localAddr
}

// Close closes the socket. It is safe to call more than once.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function":   "Close",
			"local_addr": t.localAddr.String(),
		}).Debug("UDP transport closed")
	})
	return t.closeErr
}
