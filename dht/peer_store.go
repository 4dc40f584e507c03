package dht

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opd-ai/mainline/nodeid"
)

// swarm is the set of peers announced for one info hash.
type swarm struct {
	peers map[netip.AddrPort]time.Time
}

// peerStore remembers announced peers. The number of info hashes is
// bounded by an LRU cache; each swarm is bounded by maxPeers and drops
// its stalest peer when full.
type peerStore struct {
	mu       sync.Mutex
	swarms   *lru.Cache[nodeid.ID, *swarm]
	maxPeers int
	ttl      time.Duration
	clock    clock.Clock
}

func newPeerStore(maxTorrents, maxPeers int, ttl time.Duration, clk clock.Clock) (*peerStore, error) {
	cache, err := lru.New[nodeid.ID, *swarm](maxTorrents)
	if err != nil {
		return nil, err
	}
	return &peerStore{
		swarms:   cache,
		maxPeers: maxPeers,
		ttl:      ttl,
		clock:    clk,
	}, nil
}

// Add records peer as a member of infoHash's swarm.
func (ps *peerStore) Add(infoHash nodeid.ID, peer netip.AddrPort) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	s, ok := ps.swarms.Get(infoHash)
	if !ok {
		s = &swarm{peers: make(map[netip.AddrPort]time.Time)}
		ps.swarms.Add(infoHash, s)
	}
	if _, known := s.peers[peer]; !known && len(s.peers) >= ps.maxPeers {
		var stalest netip.AddrPort
		var stalestAt time.Time
		for p, at := range s.peers {
			if stalestAt.IsZero() || at.Before(stalestAt) {
				stalest, stalestAt = p, at
			}
		}
		delete(s.peers, stalest)
	}
	s.peers[peer] = now
}

// Peers returns up to limit unexpired peers for infoHash, most recently
// announced first.
func (ps *peerStore) Peers(infoHash nodeid.ID, limit int) []netip.AddrPort {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	s, ok := ps.swarms.Get(infoHash)
	if !ok {
		return nil
	}
	now := ps.clock.Now()
	type entry struct {
		addr netip.AddrPort
		at   time.Time
	}
	entries := make([]entry, 0, len(s.peers))
	for p, at := range s.peers {
		if now.Sub(at) < ps.ttl {
			entries = append(entries, entry{p, at})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.After(entries[j].at)
		}
		return entries[i].addr.Compare(entries[j].addr) < 0
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]netip.AddrPort, len(entries))
	for i, e := range entries {
		out[i] = e.addr
	}
	return out
}

// Expire drops peers older than the TTL and empty swarms. It returns the
// number of peers removed.
func (ps *peerStore) Expire() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	removed := 0
	for _, key := range ps.swarms.Keys() {
		s, ok := ps.swarms.Peek(key)
		if !ok {
			continue
		}
		for p, at := range s.peers {
			if now.Sub(at) >= ps.ttl {
				delete(s.peers, p)
				removed++
			}
		}
		if len(s.peers) == 0 {
			ps.swarms.Remove(key)
		}
	}
	return removed
}

// Torrents returns the number of info hashes with stored peers.
func (ps *peerStore) Torrents() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.swarms.Len()
}
