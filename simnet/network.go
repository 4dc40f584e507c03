package simnet

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/mainline/limits"
	"github.com/opd-ai/mainline/transport"
	"github.com/sirupsen/logrus"
)

// ErrAddrInUse is returned by Listen when the address is taken.
var ErrAddrInUse = errors.New("simnet: address already in use")

const inboxSize = 256

// Datagram is one recorded transmission.
type Datagram struct {
	From      netip.AddrPort
	To        netip.AddrPort
	Data      []byte
	Delivered bool
}

// Filter decides whether a datagram is delivered.
type Filter func(d Datagram) bool

// Network connects Endpoints by address.
type Network struct {
	mu        sync.Mutex
	endpoints map[netip.AddrPort]*Endpoint
	log       []Datagram
	dropAll   bool
	filter    Filter
	nextHost  uint32
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[netip.AddrPort]*Endpoint)}
}

// Listen attaches a new endpoint at addr.
func (n *Network) Listen(addr netip.AddrPort) (*Endpoint, error) {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.endpoints[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
	}
	ep := &Endpoint{
		network: n,
		addr:    addr,
		inbox:   make(chan Datagram, inboxSize),
		closed:  make(chan struct{}),
	}
	n.endpoints[addr] = ep
	return ep, nil
}

// NewEndpoint attaches an endpoint at the next free address in
// 10.0.0.0/8, port 6881.
func (n *Network) NewEndpoint() *Endpoint {
	for {
		n.mu.Lock()
		n.nextHost++
		host := n.nextHost
		n.mu.Unlock()

		a4 := [4]byte{10, byte(host >> 16), byte(host >> 8), byte(host)}
		ep, err := n.Listen(netip.AddrPortFrom(netip.AddrFrom4(a4), 6881))
		if err == nil {
			return ep
		}
	}
}

// SetDropAll makes the network drop (true) or deliver (false) everything.
func (n *Network) SetDropAll(drop bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropAll = drop
}

// SetFilter installs a per-datagram delivery filter; nil removes it.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
}

// Sent returns a copy of every datagram sent so far.
func (n *Network) Sent() []Datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Datagram, len(n.log))
	copy(out, n.log)
	return out
}

// SentFrom returns the datagrams sent by addr.
func (n *Network) SentFrom(addr netip.AddrPort) []Datagram {
	var out []Datagram
	for _, d := range n.Sent() {
		if d.From == addr {
			out = append(out, d)
		}
	}
	return out
}

func (n *Network) deliver(d Datagram) {
	n.mu.Lock()
	dst, ok := n.endpoints[d.To]
	allowed := !n.dropAll && (n.filter == nil || n.filter(d))
	d.Delivered = ok && allowed
	if d.Delivered {
		select {
		case dst.inbox <- d:
		default:
			d.Delivered = false
		}
	}
	n.log = append(n.log, d)
	n.mu.Unlock()

	if !d.Delivered {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"from":     d.From.String(),
			"to":       d.To.String(),
			"size":     len(d.Data),
		}).Trace("Simulated datagram dropped")
	}
}

func (n *Network) detach(ep *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[ep.addr] == ep {
		delete(n.endpoints, ep.addr)
	}
}

// Endpoint is one attached address. It implements transport.Transport.
type Endpoint struct {
	network   *Network
	addr      netip.AddrPort
	inbox     chan Datagram
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Endpoint)(nil)

// Send implements transport.Transport. Like UDP, sending to an address
// nobody listens on succeeds silently.
func (e *Endpoint) Send(data []byte, addr netip.AddrPort) error {
	select {
	case <-e.closed:
		return transport.ErrClosed
	default:
	}
	if err := limits.ValidateDatagram(data); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	e.network.deliver(Datagram{
		From: e.addr,
		To:   netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()),
		Data: buf,
	})
	return nil
}

// Receive implements transport.Transport.
func (e *Endpoint) Receive(buf []byte, timeout time.Duration) (int, netip.AddrPort, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-e.inbox:
		return copy(buf, d.Data), d.From, nil
	case <-e.closed:
		return 0, netip.AddrPort{}, transport.ErrClosed
	case <-timer.C:
		return 0, netip.AddrPort{}, transport.ErrReceiveTimeout
	}
}

// LocalAddr implements transport.Transport.
func (e *Endpoint) LocalAddr() netip.AddrPort {
	return e.addr
}

// Close implements transport.Transport.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.network.detach(e)
	})
	return nil
}

// Serve answers every datagram arriving at e with whatever reply returns
// (nil means no answer) until done is closed or the endpoint is closed.
// It is meant for scripted remote nodes in tests.
func (e *Endpoint) Serve(done <-chan struct{}, reply func(data []byte, from netip.AddrPort) []byte) {
	buf := make([]byte, limits.MaxDatagramSize)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, from, err := e.Receive(buf, 20*time.Millisecond)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			return
		}
		if out := reply(buf[:n], from); out != nil {
			_ = e.Send(out, from)
		}
	}
}
