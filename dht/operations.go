package dht

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// operationContext bounds ctx by timeout and by shutdown.
func (d *DHT) operationContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	ctx, cancelShutdown := d.coordinator.Context(ctx)
	return ctx, func() {
		cancelShutdown()
		cancelTimeout()
	}
}

// FindNodes runs an iterative find_node lookup and returns the nodes
// that answered, closest to target first, at most BucketSize of them.
func (d *DHT) FindNodes(ctx context.Context, target nodeid.ID) ([]krpc.NodeInfo, error) {
	ctx, cancel := d.operationContext(ctx, d.settings.LookupTimeout)
	defer cancel()

	l := d.newLookup("find_nodes", krpc.MethodFindNode, target)
	if err := l.run(ctx); err != nil {
		return nil, err
	}

	responders := l.closestResponders()
	if len(responders) > d.settings.BucketSize {
		responders = responders[:d.settings.BucketSize]
	}
	out := make([]krpc.NodeInfo, len(responders))
	for i, c := range responders {
		out[i] = c.info
	}

	logrus.WithFields(logrus.Fields{
		"function": "FindNodes",
		"target":   target.String(),
		"found":    len(out),
	}).Debug("Lookup finished")

	return out, nil
}

// GetPeersResult is the outcome of a get_peers lookup.
type GetPeersResult struct {
	// Peers are the distinct peers reported by any responder.
	Peers []netip.AddrPort
	// Tokens maps each responder that handed out a token to that token.
	Tokens map[krpc.NodeInfo]string

	responders []krpc.NodeInfo
}

// Responders returns every node that answered, closest to the info hash
// first.
func (r *GetPeersResult) Responders() []krpc.NodeInfo {
	return append([]krpc.NodeInfo(nil), r.responders...)
}

// GetPeers looks up peers for infoHash, giving up after timeout.
func (d *DHT) GetPeers(ctx context.Context, infoHash nodeid.ID, timeout time.Duration) (*GetPeersResult, error) {
	ctx, cancel := d.operationContext(ctx, timeout)
	defer cancel()

	result := &GetPeersResult{Tokens: make(map[krpc.NodeInfo]string)}
	seenPeers := make(map[netip.AddrPort]bool)

	l := d.newLookup("get_peers", krpc.MethodGetPeers, infoHash)
	l.onResponse = func(c *candidate, resp *krpc.Message) {
		for _, peer := range krpc.DecodeCompactPeers(resp.R.Values) {
			if !seenPeers[peer] {
				seenPeers[peer] = true
				result.Peers = append(result.Peers, peer)
			}
		}
		if c.token != "" {
			result.Tokens[c.info] = c.token
		}
	}
	if err := l.run(ctx); err != nil {
		return nil, err
	}

	for _, c := range l.closestResponders() {
		result.responders = append(result.responders, c.info)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "GetPeers",
		"info_hash":  infoHash.String(),
		"peers":      len(result.Peers),
		"responders": len(result.responders),
	}).Debug("Lookup finished")

	return result, nil
}

// AnnouncePeer announces that this host serves infoHash on port. Port 0
// asks the receivers to use the UDP source port instead (implied_port).
// timeout bounds the get_peers search; each announce that follows gets
// its own QueryTimeout. It returns the nodes that acknowledged the
// announce.
func (d *DHT) AnnouncePeer(ctx context.Context, infoHash nodeid.ID, port uint16, timeout time.Duration) ([]krpc.NodeInfo, error) {
	if d.settings.ReadOnly {
		return nil, &OperationError{Op: "announce_peer", Err: ErrReadOnly}
	}

	found, err := d.GetPeers(ctx, infoHash, timeout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := d.coordinator.Context(ctx)
	defer cancel()

	var holders []krpc.NodeInfo
	for _, info := range found.Responders() {
		if _, ok := found.Tokens[info]; ok {
			holders = append(holders, info)
		}
		if len(holders) == d.settings.BucketSize {
			break
		}
	}

	var (
		mu    sync.Mutex
		acked []krpc.NodeInfo
		g     errgroup.Group
	)
	for _, info := range holders {
		info := info
		g.Go(func() error {
			args := krpc.Args{
				InfoHash: infoHash.RawString(),
				Token:    found.Tokens[info],
				Port:     int(port),
			}
			if port == 0 {
				args.ImpliedPort = 1
			}
			queryCtx, cancelQuery := context.WithTimeout(ctx, d.settings.QueryTimeout)
			defer cancelQuery()
			if _, err := d.query(queryCtx, info, krpc.MethodAnnouncePeer, args); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "AnnouncePeer",
					"node":     info.String(),
					"error":    err.Error(),
				}).Debug("Announce not acknowledged")
				return nil
			}
			mu.Lock()
			acked = append(acked, info)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if d.coordinator.ShuttingDown() {
		return nil, &OperationError{Op: "announce_peer", Err: ErrShutdown}
	}
	if len(acked) == 0 {
		return nil, &OperationError{Op: "announce_peer", Err: ErrAnnounceFailed}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "AnnouncePeer",
		"info_hash": infoHash.String(),
		"acked":     len(acked),
	}).Info("Announced peer")

	return acked, nil
}

// Ping queries addr and returns the identity it reports.
func (d *DHT) Ping(ctx context.Context, addr netip.AddrPort) (krpc.NodeInfo, error) {
	ctx, cancel := d.operationContext(ctx, d.settings.QueryTimeout*2)
	defer cancel()

	resp, err := d.query(ctx, krpc.NodeInfo{Addr: krpc.NormalizeAddr(addr)}, krpc.MethodPing, krpc.Args{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		return krpc.NodeInfo{}, &OperationError{Op: "ping", Err: err}
	}
	sender, _ := resp.SenderID()
	return krpc.NewNodeInfo(sender, addr), nil
}
