package dht

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/sirupsen/logrus"
)

// BootstrapError reports a router that could not be used.
type BootstrapError struct {
	Router string
	Cause  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("dht: bootstrap router %s: %v", e.Router, e.Cause)
}

func (e *BootstrapError) Unwrap() error {
	return e.Cause
}

// resolveRouters turns the configured "host:port" routers into IPv4
// endpoints. Routers that fail to resolve are logged and skipped.
func (d *DHT) resolveRouters(ctx context.Context) []netip.AddrPort {
	seen := make(map[netip.AddrPort]bool)
	var out []netip.AddrPort

	for _, router := range d.settings.Routers {
		addrs, err := d.resolveRouter(ctx, router)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "resolveRouters",
				"error":    err.Error(),
			}).Warn("Skipping bootstrap router")
			continue
		}
		for _, a := range addrs {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}

	d.routersMu.Lock()
	d.routers = out
	d.routersMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "resolveRouters",
		"routers":  len(out),
	}).Debug("Bootstrap routers resolved")

	return out
}

func (d *DHT) resolveRouter(ctx context.Context, router string) ([]netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(router)
	if err != nil {
		return nil, &BootstrapError{Router: router, Cause: err}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return nil, &BootstrapError{Router: router, Cause: fmt.Errorf("invalid port %q", portStr)}
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if !ip.Is4() {
			return nil, &BootstrapError{Router: router, Cause: krpc.ErrNotIPv4}
		}
		return []netip.AddrPort{netip.AddrPortFrom(ip, uint16(port))}, nil
	}

	ips, err := d.resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return nil, &BootstrapError{Router: router, Cause: err}
	}
	var out []netip.AddrPort
	for _, ip := range ips {
		if ip = ip.Unmap(); ip.Is4() {
			out = append(out, netip.AddrPortFrom(ip, uint16(port)))
		}
	}
	if len(out) == 0 {
		return nil, &BootstrapError{Router: router, Cause: krpc.ErrNotIPv4}
	}
	return out, nil
}

// routerAddrs returns the last resolved routers.
func (d *DHT) routerAddrs() []netip.AddrPort {
	d.routersMu.RLock()
	defer d.routersMu.RUnlock()
	return append([]netip.AddrPort(nil), d.routers...)
}

// bootstrap resolves the routers and fills the routing table with a
// lookup for a random ID.
func (d *DHT) bootstrap(ctx context.Context) error {
	d.resolveRouters(ctx)

	target := nodeid.Random()
	found, err := d.FindNodes(ctx, target)
	if err != nil {
		return err
	}

	good, total := d.storage.Count()
	logrus.WithFields(logrus.Fields{
		"function":   "bootstrap",
		"responders": len(found),
		"good_nodes": good,
		"nodes":      total,
	}).Info("Bootstrap finished")
	return nil
}
