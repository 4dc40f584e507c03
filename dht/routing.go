package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/sirupsen/logrus"
)

// bucket holds nodes whose IDs fall in one prefix range of the space.
type bucket struct {
	nodes       []*Node
	lastChanged time.Time
}

// BucketStorage is the Kademlia routing table.
//
// Bucket i (for every bucket but the last) holds nodes sharing exactly i
// leading bits with the local ID. The last bucket holds everything closer
// and is the only one that splits, so the table is fine-grained near the
// local ID and coarse far from it. The bucket count never shrinks.
type BucketStorage struct {
	cfg     StorageConfig
	buckets []*bucket
	mu      sync.RWMutex
}

var (
	_ NodeStorage     = (*BucketStorage)(nil)
	_ BucketRefresher = (*BucketStorage)(nil)
)

// NewBucketStorage creates a routing table with a single bucket covering
// the whole identifier space.
func NewBucketStorage(cfg StorageConfig) *BucketStorage {
	cfg = cfg.withDefaults()
	return &BucketStorage{
		cfg:     cfg,
		buckets: []*bucket{{lastChanged: cfg.Clock.Now()}},
	}
}

// BucketStorageFactory is the default StorageFactory.
func BucketStorageFactory(cfg StorageConfig) NodeStorage {
	return NewBucketStorage(cfg)
}

// bucketIndex returns the bucket a node with the given ID belongs in.
func (bs *BucketStorage) bucketIndex(id nodeid.ID) int {
	cpl := bs.cfg.LocalID.CommonPrefixLen(id)
	if last := len(bs.buckets) - 1; cpl > last {
		return last
	}
	return cpl
}

// AddOrUpdate implements NodeStorage.
func (bs *BucketStorage) AddOrUpdate(info krpc.NodeInfo, verified bool) bool {
	if info.ID == bs.cfg.LocalID {
		return false
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	now := bs.cfg.Clock.Now()
	idx := bs.bucketIndex(info.ID)
	b := bs.buckets[idx]

	if i := indexOfNode(b.nodes, info.ID); i >= 0 {
		existing := b.nodes[i]
		if existing.Addr != info.Addr {
			if !verified {
				// Unverified claims never move a known node.
				return true
			}
			existing.Addr = info.Addr
		}
		if verified {
			existing.apply(OutcomeResponded, now, bs.cfg.MaxFailures)
			b.lastChanged = now
		}
		return true
	}

	node := newNode(info, now)
	if verified {
		node.apply(OutcomeResponded, now, bs.cfg.MaxFailures)
	}

	for len(b.nodes) >= bs.cfg.BucketSize && idx == len(bs.buckets)-1 && len(bs.buckets) < nodeid.Bits {
		bs.split()
		idx = bs.bucketIndex(info.ID)
		b = bs.buckets[idx]
	}

	if len(b.nodes) < bs.cfg.BucketSize {
		b.nodes = append(b.nodes, node)
		b.lastChanged = now
		return true
	}

	victim := evictionVictim(b.nodes, verified, bs.cfg, now)
	if victim < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "AddOrUpdate",
			"node":     info.String(),
			"bucket":   idx,
		}).Trace("Bucket full, node rejected")
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function": "AddOrUpdate",
		"node":     info.String(),
		"evicted":  b.nodes[victim].NodeInfo.String(),
		"bucket":   idx,
	}).Debug("Evicting node")
	b.nodes[victim] = node
	b.lastChanged = now
	return true
}

// split divides the last bucket in two. Must be called with mu held.
func (bs *BucketStorage) split() {
	depth := len(bs.buckets) - 1
	last := bs.buckets[depth]
	next := &bucket{lastChanged: last.lastChanged}

	kept := last.nodes[:0]
	for _, n := range last.nodes {
		if bs.cfg.LocalID.CommonPrefixLen(n.ID) > depth {
			next.nodes = append(next.nodes, n)
		} else {
			kept = append(kept, n)
		}
	}
	last.nodes = kept
	bs.buckets = append(bs.buckets, next)
}

// MarkInteraction implements NodeStorage.
func (bs *BucketStorage) MarkInteraction(id nodeid.ID, outcome Outcome) bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	b := bs.buckets[bs.bucketIndex(id)]
	i := indexOfNode(b.nodes, id)
	if i < 0 {
		return false
	}
	now := bs.cfg.Clock.Now()
	b.nodes[i].apply(outcome, now, bs.cfg.MaxFailures)
	if outcome == OutcomeResponded {
		b.lastChanged = now
	}
	return true
}

// FindClosest implements NodeStorage.
func (bs *BucketStorage) FindClosest(target nodeid.ID, count int) []Node {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	return closestOf(bs.allLocked(), target, count, bs.cfg, bs.cfg.Clock.Now())
}

func (bs *BucketStorage) allLocked() []*Node {
	var all []*Node
	for _, b := range bs.buckets {
		all = append(all, b.nodes...)
	}
	return all
}

// All implements NodeStorage.
func (bs *BucketStorage) All() []Node {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var out []Node
	for _, b := range bs.buckets {
		for _, n := range b.nodes {
			out = append(out, *n)
		}
	}
	return out
}

// Count implements NodeStorage.
func (bs *BucketStorage) Count() (good, total int) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	now := bs.cfg.Clock.Now()
	for _, b := range bs.buckets {
		for _, n := range b.nodes {
			total++
			if n.Status(now, bs.cfg.Freshness, bs.cfg.MaxFailures) == StatusGood {
				good++
			}
		}
	}
	return good, total
}

// Remove implements NodeStorage.
func (bs *BucketStorage) Remove(id nodeid.ID) bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	b := bs.buckets[bs.bucketIndex(id)]
	i := indexOfNode(b.nodes, id)
	if i < 0 {
		return false
	}
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
	return true
}

// Prune implements NodeStorage.
func (bs *BucketStorage) Prune(olderThan time.Duration) int {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	now := bs.cfg.Clock.Now()
	removed := 0
	for _, b := range bs.buckets {
		kept := b.nodes[:0]
		for _, n := range b.nodes {
			if n.Status(now, bs.cfg.Freshness, bs.cfg.MaxFailures) == StatusBad && now.Sub(n.BadSince) >= olderThan {
				removed++
				continue
			}
			kept = append(kept, n)
		}
		b.nodes = kept
	}
	return removed
}

// BucketCount returns the current number of buckets.
func (bs *BucketStorage) BucketCount() int {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return len(bs.buckets)
}

// StaleBuckets implements BucketRefresher.
func (bs *BucketStorage) StaleBuckets(olderThan time.Duration) []nodeid.ID {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	now := bs.cfg.Clock.Now()
	type stale struct {
		index int
		since time.Time
	}
	var found []stale
	for i, b := range bs.buckets {
		if now.Sub(b.lastChanged) >= olderThan {
			found = append(found, stale{index: i, since: b.lastChanged})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].since.Before(found[j].since)
	})

	targets := make([]nodeid.ID, 0, len(found))
	for _, s := range found {
		targets = append(targets, bs.randomIDInBucket(s.index))
	}
	return targets
}

// randomIDInBucket draws an ID from bucket i's range.
func (bs *BucketStorage) randomIDInBucket(i int) nodeid.ID {
	if i == len(bs.buckets)-1 {
		return nodeid.RandomWithPrefix(bs.cfg.LocalID, i)
	}
	return nodeid.RandomWithPrefix(bs.cfg.LocalID.WithBitFlipped(i), i+1)
}
