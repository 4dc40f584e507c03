package dht

import (
	"context"
	"errors"
	"net/netip"
	"sort"
	"sync"

	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// candidate is a node in a lookup's shortlist.
type candidate struct {
	info      krpc.NodeInfo
	queried   bool
	responded bool
	token     string
}

// lookup is one iterative search converging on target.
type lookup struct {
	d      *DHT
	op     string
	method string
	target nodeid.ID

	mu         sync.Mutex
	shortlist  []*candidate
	seen       map[netip.AddrPort]bool
	responders []*candidate

	// onResponse sees every successful reply, under mu.
	onResponse func(c *candidate, resp *krpc.Message)
}

func (d *DHT) newLookup(op, method string, target nodeid.ID) *lookup {
	return &lookup{
		d:      d,
		op:     op,
		method: method,
		target: target,
		seen:   make(map[netip.AddrPort]bool),
	}
}

// seeds returns the starting candidates: the closest stored nodes, or
// the routers when the table is empty. Routers are resolved here if Run
// has not resolved them yet.
func (l *lookup) seeds(ctx context.Context) []krpc.NodeInfo {
	var out []krpc.NodeInfo
	for _, n := range l.d.storage.FindClosest(l.target, l.d.settings.ShortlistWidth) {
		out = append(out, n.NodeInfo)
	}
	if len(out) > 0 {
		return out
	}
	routers := l.d.routerAddrs()
	if len(routers) == 0 && len(l.d.settings.Routers) > 0 {
		routers = l.d.resolveRouters(ctx)
	}
	for _, addr := range routers {
		out = append(out, krpc.NodeInfo{Addr: addr})
	}
	return out
}

// addLocked inserts info unless its address was already seen.
func (l *lookup) addLocked(info krpc.NodeInfo) {
	if info.ID == l.d.id || l.seen[info.Addr] || !krpc.ValidEndpoint(info.Addr) {
		return
	}
	l.seen[info.Addr] = true
	l.shortlist = append(l.shortlist, &candidate{info: info})
}

// sortLocked orders the shortlist closest first, unknown IDs last, and
// trims it to the shortlist width.
func (l *lookup) sortLocked() {
	sort.SliceStable(l.shortlist, func(i, j int) bool {
		a, b := l.shortlist[i].info.ID, l.shortlist[j].info.ID
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		return nodeid.CompareDistance(l.target, a, b) < 0
	})
	if len(l.shortlist) > l.d.settings.ShortlistWidth {
		l.shortlist = l.shortlist[:l.d.settings.ShortlistWidth]
	}
}

// bestLocked returns the closest known ID in the shortlist.
func (l *lookup) bestLocked() (nodeid.ID, bool) {
	for _, c := range l.shortlist {
		if !c.info.ID.IsZero() {
			return c.info.ID, true
		}
	}
	return nodeid.ID{}, false
}

// nextRoundLocked marks and returns up to alpha unqueried candidates.
func (l *lookup) nextRoundLocked() []*candidate {
	var round []*candidate
	for _, c := range l.shortlist {
		if len(round) == l.d.settings.Alpha {
			break
		}
		if !c.queried {
			c.queried = true
			round = append(round, c)
		}
	}
	return round
}

// run performs the search until convergence, ctx expiry or shutdown.
func (l *lookup) run(ctx context.Context) error {
	seeds := l.seeds(ctx)
	l.mu.Lock()
	for _, info := range seeds {
		l.addLocked(info)
	}
	l.sortLocked()
	l.mu.Unlock()

	for round := 1; ; round++ {
		if l.d.coordinator.ShuttingDown() {
			return &OperationError{Op: l.op, Err: ErrShutdown}
		}
		if ctx.Err() != nil {
			break
		}

		l.mu.Lock()
		before, hadBest := l.bestLocked()
		batch := l.nextRoundLocked()
		l.mu.Unlock()

		if len(batch) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(l.d.settings.Alpha)
		for _, c := range batch {
			c := c
			g.Go(func() error {
				l.queryCandidate(ctx, c)
				return nil
			})
		}
		_ = g.Wait()

		l.mu.Lock()
		l.sortLocked()
		after, hasBest := l.bestLocked()
		l.mu.Unlock()

		improved := hasBest && (!hadBest || nodeid.CompareDistance(l.target, after, before) < 0)

		logrus.WithFields(logrus.Fields{
			"function": "lookup",
			"op":       l.op,
			"target":   l.target.String(),
			"round":    round,
			"queried":  len(batch),
			"improved": improved,
		}).Trace("Lookup round finished")

		if !improved && hadBest {
			break
		}
	}

	if l.d.coordinator.ShuttingDown() {
		return &OperationError{Op: l.op, Err: ErrShutdown}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.responders) == 0 {
		return &OperationError{Op: l.op, Err: ErrNoResponse}
	}
	return nil
}

func (l *lookup) queryCandidate(ctx context.Context, c *candidate) {
	args := krpc.Args{}
	if l.method == krpc.MethodGetPeers {
		args.InfoHash = l.target.RawString()
	} else {
		args.Target = l.target.RawString()
	}

	resp, err := l.d.query(ctx, c.info, l.method, args)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			logrus.WithFields(logrus.Fields{
				"function": "queryCandidate",
				"op":       l.op,
				"node":     c.info.String(),
				"error":    err.Error(),
			}).Trace("Lookup query failed")
		}
		return
	}

	learned, decodeErr := krpc.DecodeCompactNodes(resp.R.Nodes)
	if decodeErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "queryCandidate",
			"node":     c.info.String(),
			"error":    decodeErr.Error(),
		}).Debug("Ignoring malformed nodes field")
	}
	for _, info := range learned {
		l.d.storage.AddOrUpdate(info, false)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sender, ok := resp.SenderID(); ok {
		c.info.ID = sender
	}
	c.responded = true
	c.token = resp.R.Token
	l.responders = append(l.responders, c)
	for _, info := range learned {
		l.addLocked(info)
	}
	if l.onResponse != nil {
		l.onResponse(c, resp)
	}
}

// closestResponders returns the responders, closest to target first.
func (l *lookup) closestResponders() []*candidate {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := append([]*candidate(nil), l.responders...)
	sort.SliceStable(out, func(i, j int) bool {
		return nodeid.CompareDistance(l.target, out[i].info.ID, out[j].info.ID) < 0
	})
	return out
}
