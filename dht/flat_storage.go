package dht

import (
	"sync"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
)

// FlatStorage keeps up to a fixed number of nodes in one list with the
// same replacement policy as a single bucket. It suits short-lived
// read-only clients that only need a handful of entry points.
type FlatStorage struct {
	cfg      StorageConfig
	capacity int
	nodes    []*Node
	mu       sync.RWMutex
}

var _ NodeStorage = (*FlatStorage)(nil)

// NewFlatStorage creates a flat storage holding up to capacity nodes.
func NewFlatStorage(cfg StorageConfig, capacity int) *FlatStorage {
	cfg = cfg.withDefaults()
	if capacity <= 0 {
		capacity = cfg.BucketSize
	}
	return &FlatStorage{cfg: cfg, capacity: capacity}
}

// FlatStorageFactory returns a StorageFactory building FlatStorages.
func FlatStorageFactory(capacity int) StorageFactory {
	return func(cfg StorageConfig) NodeStorage {
		return NewFlatStorage(cfg, capacity)
	}
}

// AddOrUpdate implements NodeStorage.
func (fs *FlatStorage) AddOrUpdate(info krpc.NodeInfo, verified bool) bool {
	if info.ID == fs.cfg.LocalID {
		return false
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.cfg.Clock.Now()
	if i := indexOfNode(fs.nodes, info.ID); i >= 0 {
		if verified {
			fs.nodes[i].Addr = info.Addr
			fs.nodes[i].apply(OutcomeResponded, now, fs.cfg.MaxFailures)
		}
		return true
	}

	node := newNode(info, now)
	if verified {
		node.apply(OutcomeResponded, now, fs.cfg.MaxFailures)
	}
	if len(fs.nodes) < fs.capacity {
		fs.nodes = append(fs.nodes, node)
		return true
	}
	victim := evictionVictim(fs.nodes, verified, fs.cfg, now)
	if victim < 0 {
		return false
	}
	fs.nodes[victim] = node
	return true
}

// MarkInteraction implements NodeStorage.
func (fs *FlatStorage) MarkInteraction(id nodeid.ID, outcome Outcome) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := indexOfNode(fs.nodes, id)
	if i < 0 {
		return false
	}
	fs.nodes[i].apply(outcome, fs.cfg.Clock.Now(), fs.cfg.MaxFailures)
	return true
}

// FindClosest implements NodeStorage.
func (fs *FlatStorage) FindClosest(target nodeid.ID, count int) []Node {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return closestOf(fs.nodes, target, count, fs.cfg, fs.cfg.Clock.Now())
}

// All implements NodeStorage.
func (fs *FlatStorage) All() []Node {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]Node, 0, len(fs.nodes))
	for _, n := range fs.nodes {
		out = append(out, *n)
	}
	return out
}

// Count implements NodeStorage.
func (fs *FlatStorage) Count() (good, total int) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	now := fs.cfg.Clock.Now()
	for _, n := range fs.nodes {
		if n.Status(now, fs.cfg.Freshness, fs.cfg.MaxFailures) == StatusGood {
			good++
		}
	}
	return good, len(fs.nodes)
}

// Remove implements NodeStorage.
func (fs *FlatStorage) Remove(id nodeid.ID) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := indexOfNode(fs.nodes, id)
	if i < 0 {
		return false
	}
	fs.nodes = append(fs.nodes[:i], fs.nodes[i+1:]...)
	return true
}

// Prune implements NodeStorage.
func (fs *FlatStorage) Prune(olderThan time.Duration) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.cfg.Clock.Now()
	kept := fs.nodes[:0]
	for _, n := range fs.nodes {
		if n.Status(now, fs.cfg.Freshness, fs.cfg.MaxFailures) == StatusBad && now.Sub(n.BadSince) >= olderThan {
			continue
		}
		kept = append(kept, n)
	}
	removed := len(fs.nodes) - len(kept)
	fs.nodes = kept
	return removed
}
