package dht

import (
	"errors"
	"net/netip"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/limits"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/opd-ai/mainline/transport"
	"github.com/sirupsen/logrus"
)

// receivePollInterval bounds how long the receive loop blocks before it
// checks for shutdown again.
const receivePollInterval = 100 * time.Millisecond

// receiveLoop reads datagrams and dispatches them in arrival order.
func (d *DHT) receiveLoop(done <-chan struct{}) {
	buf := make([]byte, limits.MaxDatagramSize)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, from, err := d.transport.Receive(buf, receivePollInterval)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if d.coordinator.ShuttingDown() {
				return
			}
			d.setFatal(&TransportError{Op: "receive", Err: err})
			logrus.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"error":    err.Error(),
			}).Error("Transport failed, shutting down")
			d.coordinator.Signal()
			return
		}

		d.handleDatagram(buf[:n], from)
	}
}

// handleDatagram decodes one datagram and routes it.
func (d *DHT) handleDatagram(data []byte, from netip.AddrPort) {
	if !d.limiter.Allow() {
		d.metrics.dropped.WithLabelValues("rate_limited").Inc()
		return
	}

	msg, err := krpc.Unmarshal(data)
	if err != nil {
		d.metrics.dropped.WithLabelValues("decode").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"from":     from.String(),
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Dropping undecodable datagram")
		return
	}

	if msg.IsQuery() {
		d.recordQuerier(msg, from)
		d.handleQuery(msg, from)
		return
	}
	d.txns.Handle(msg, from)
}

// recordQuerier adds the sender of a query to storage. Read-only
// senders (BEP 43) cannot be queried back and are skipped.
func (d *DHT) recordQuerier(msg *krpc.Message, from netip.AddrPort) {
	if msg.ReadOnly() || !krpc.ValidEndpoint(from) {
		return
	}
	sender, ok := msg.SenderID()
	if !ok {
		return
	}
	d.storage.AddOrUpdate(krpc.NewNodeInfo(sender, from), false)
	d.storage.MarkInteraction(sender, OutcomeQueried)
}

// handleQuery answers an inbound query. Read-only nodes stay silent.
func (d *DHT) handleQuery(msg *krpc.Message, from netip.AddrPort) {
	d.metrics.queriesReceived.WithLabelValues(msg.Q).Inc()

	if d.settings.ReadOnly {
		logrus.WithFields(logrus.Fields{
			"function": "handleQuery",
			"method":   msg.Q,
			"from":     from.String(),
		}).Trace("Read-only node ignoring query")
		return
	}

	var (
		ret  krpc.Return
		kerr *krpc.Error
	)
	switch msg.Q {
	case krpc.MethodPing:
		ret = krpc.Return{}
	case krpc.MethodFindNode:
		ret, kerr = d.handleFindNode(msg.A)
	case krpc.MethodGetPeers:
		ret, kerr = d.handleGetPeers(msg.A, from)
	case krpc.MethodAnnouncePeer:
		ret, kerr = d.handleAnnouncePeer(msg.A, from)
	default:
		kerr = &krpc.Error{Code: krpc.ErrorMethodUnknown, Message: "Method Unknown"}
	}

	var reply *krpc.Message
	if kerr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleQuery",
			"method":   msg.Q,
			"from":     from.String(),
			"code":     kerr.Code,
			"reason":   kerr.Message,
		}).Debug("Rejecting query")
		reply = krpc.NewError(msg.T, kerr.Code, kerr.Message)
	} else {
		ret.ID = d.id.RawString()
		reply = krpc.NewResponse(msg.T, ret)
		if ip, err := krpc.EncodeCompactAddr(from); err == nil {
			reply.IP = ip
		}
	}
	d.reply(reply, from)
}

func (d *DHT) reply(msg *krpc.Message, to netip.AddrPort) {
	data, err := krpc.Marshal(msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"to":       to.String(),
			"error":    err.Error(),
		}).Warn("Failed to encode reply")
		return
	}
	if err := d.transport.Send(data, to); err != nil && !errors.Is(err, transport.ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"to":       to.String(),
			"error":    err.Error(),
		}).Warn("Failed to send reply")
	}
}

func protocolError(message string) *krpc.Error {
	return &krpc.Error{Code: krpc.ErrorProtocol, Message: message}
}

// closestCompact encodes the K closest known nodes to target.
func (d *DHT) closestCompact(target nodeid.ID) string {
	closest := d.storage.FindClosest(target, d.settings.BucketSize)
	infos := make([]krpc.NodeInfo, len(closest))
	for i, n := range closest {
		infos[i] = n.NodeInfo
	}
	return krpc.EncodeCompactNodes(infos)
}

func (d *DHT) handleFindNode(args *krpc.Args) (krpc.Return, *krpc.Error) {
	target, err := nodeid.FromString(args.Target)
	if err != nil {
		return krpc.Return{}, protocolError("invalid target")
	}
	return krpc.Return{Nodes: d.closestCompact(target)}, nil
}

func (d *DHT) handleGetPeers(args *krpc.Args, from netip.AddrPort) (krpc.Return, *krpc.Error) {
	infoHash, err := nodeid.FromString(args.InfoHash)
	if err != nil {
		return krpc.Return{}, protocolError("invalid info_hash")
	}

	ret := krpc.Return{Token: string(d.tokens.Issue(from.Addr()))}
	if peers := d.peers.Peers(infoHash, d.settings.MaxPeersResponse); len(peers) > 0 {
		ret.Values = krpc.EncodeCompactPeers(peers)
	}
	ret.Nodes = d.closestCompact(infoHash)
	return ret, nil
}

func (d *DHT) handleAnnouncePeer(args *krpc.Args, from netip.AddrPort) (krpc.Return, *krpc.Error) {
	infoHash, err := nodeid.FromString(args.InfoHash)
	if err != nil {
		return krpc.Return{}, protocolError("invalid info_hash")
	}
	if err := limits.ValidateToken(args.Token); err != nil || !d.tokens.Validate([]byte(args.Token), from.Addr()) {
		return krpc.Return{}, protocolError("bad token")
	}

	port := from.Port()
	if args.ImpliedPort == 0 {
		if args.Port <= 0 || args.Port > 65535 {
			return krpc.Return{}, protocolError("invalid port")
		}
		port = uint16(args.Port)
	}

	peer := netip.AddrPortFrom(from.Addr(), port)
	d.peers.Add(infoHash, peer)

	logrus.WithFields(logrus.Fields{
		"function":  "handleAnnouncePeer",
		"info_hash": infoHash.String(),
		"peer":      peer.String(),
	}).Debug("Stored announced peer")

	return krpc.Return{}, nil
}
