package addrsrc

import (
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"
)

// IPv4Source reports the node's own external IPv4 address.
type IPv4Source interface {
	// AddVote records that reporter observed the local node at proposed.
	AddVote(reporter netip.AddrPort, proposed netip.Addr)

	// BestIPv4 returns the current best guess, if any.
	BestIPv4() (netip.Addr, bool)

	// Decay ages all votes by one step.
	Decay()
}

type tally struct {
	addr      netip.Addr
	votes     int
	firstSeen uint64
	reporters []netip.AddrPort
}

func (t *tally) hasReporter(r netip.AddrPort) bool {
	for _, existing := range t.reporters {
		if existing == r {
			return true
		}
	}
	return false
}

func (t *tally) dropReporter(r netip.AddrPort) {
	for i, existing := range t.reporters {
		if existing == r {
			t.reporters = append(t.reporters[:i], t.reporters[i+1:]...)
			return
		}
	}
}

// Consensus accepts the address most reporters agree on.
//
// Every AddVote counts as one vote, capped at maxVotes per address so a
// long-agreed address can still be overtaken after a few decays. An
// address becomes the consensus once it has at least quorum votes from
// at least minReporters distinct reporters.
type Consensus struct {
	mu           sync.Mutex
	quorum       int
	maxVotes     int
	minReporters int
	seq          uint64
	tallies      map[netip.Addr]*tally
	lastVote     map[netip.AddrPort]netip.Addr
}

// NewConsensus creates a consensus source requiring quorum votes, each
// address' count capped at maxVotes. The distinct-reporter requirement
// defaults to quorum; see SetMinReporters.
func NewConsensus(quorum, maxVotes int) *Consensus {
	if quorum < 1 {
		quorum = 1
	}
	if maxVotes < quorum {
		maxVotes = quorum
	}
	return &Consensus{
		quorum:       quorum,
		maxVotes:     maxVotes,
		minReporters: quorum,
		tallies:      make(map[netip.Addr]*tally),
		lastVote:     make(map[netip.AddrPort]netip.Addr),
	}
}

// SetMinReporters changes how many distinct reporters must back an
// address before it is accepted.
func (c *Consensus) SetMinReporters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 {
		n = 1
	}
	c.minReporters = n
}

// AddVote implements IPv4Source.
func (c *Consensus) AddVote(reporter netip.AddrPort, proposed netip.Addr) {
	proposed = proposed.Unmap()
	if !IsGloballyRoutableIPv4(proposed) {
		logrus.WithFields(logrus.Fields{
			"function": "AddVote",
			"reporter": reporter.String(),
			"proposed": proposed.String(),
		}).Debug("Ignoring vote for non-routable address")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.lastVote[reporter]; ok && prev != proposed {
		if t, ok := c.tallies[prev]; ok {
			t.dropReporter(reporter)
		}
	}
	c.lastVote[reporter] = proposed

	t, ok := c.tallies[proposed]
	if !ok {
		c.seq++
		t = &tally{addr: proposed, firstSeen: c.seq}
		c.tallies[proposed] = t
	}
	if t.votes < c.maxVotes {
		t.votes++
	}
	if !t.hasReporter(reporter) {
		t.reporters = append(t.reporters, reporter)
		if len(t.reporters) > c.maxVotes {
			t.reporters = t.reporters[1:]
		}
	}
}

// BestIPv4 implements IPv4Source.
func (c *Consensus) BestIPv4() (netip.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *tally
	for _, t := range c.tallies {
		if best == nil || t.votes > best.votes || (t.votes == best.votes && t.firstSeen < best.firstSeen) {
			best = t
		}
	}
	if best == nil || best.votes < c.quorum || len(best.reporters) < c.minReporters {
		return netip.Addr{}, false
	}
	return best.addr, true
}

// Decay implements IPv4Source. Each address loses one vote and its
// oldest reporters beyond the remaining vote count; empty tallies are
// forgotten.
func (c *Consensus) Decay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, t := range c.tallies {
		t.votes--
		if t.votes <= 0 {
			for _, r := range t.reporters {
				if c.lastVote[r] == addr {
					delete(c.lastVote, r)
				}
			}
			delete(c.tallies, addr)
			continue
		}
		for len(t.reporters) > t.votes {
			r := t.reporters[0]
			t.reporters = t.reporters[1:]
			if c.lastVote[r] == addr {
				delete(c.lastVote, r)
			}
		}
	}
}

// Static is an IPv4Source with a fixed, operator-supplied address.
type Static struct {
	addr netip.Addr
}

// NewStatic returns a source that always reports addr.
func NewStatic(addr netip.Addr) *Static {
	return &Static{addr: addr.Unmap()}
}

// AddVote implements IPv4Source and ignores the vote.
func (s *Static) AddVote(netip.AddrPort, netip.Addr) {}

// BestIPv4 implements IPv4Source.
func (s *Static) BestIPv4() (netip.Addr, bool) {
	return s.addr, s.addr.Is4()
}

// Decay implements IPv4Source.
func (s *Static) Decay() {}
