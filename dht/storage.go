package dht

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
)

// Outcome is an interaction with a node that changes what we know of it.
type Outcome uint8

const (
	OutcomeQuerySent Outcome = iota + 1
	OutcomeResponded
	OutcomeQueried
	OutcomeTimeout
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQuerySent:
		return "query_sent"
	case OutcomeResponded:
		return "responded"
	case OutcomeQueried:
		return "queried"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// NodeStorage keeps the set of known nodes. Implementations do no I/O
// and are safe for concurrent use.
type NodeStorage interface {
	// AddOrUpdate inserts or refreshes a node. verified means it has
	// just answered one of our queries. The result reports whether the
	// node is stored after the call.
	AddOrUpdate(info krpc.NodeInfo, verified bool) bool

	// MarkInteraction records an outcome for a stored node and reports
	// whether the node was found.
	MarkInteraction(id nodeid.ID, outcome Outcome) bool

	// FindClosest returns up to count non-bad nodes closest to target.
	FindClosest(target nodeid.ID, count int) []Node

	// All returns a snapshot of every stored node.
	All() []Node

	// Count returns the number of good nodes and of all nodes.
	Count() (good, total int)

	// Remove deletes a node.
	Remove(id nodeid.ID) bool

	// Prune removes nodes that have been bad for at least olderThan and
	// returns how many were removed.
	Prune(olderThan time.Duration) int
}

// BucketRefresher is implemented by storages that track per-range
// activity.
type BucketRefresher interface {
	// StaleBuckets returns one random target inside each range unchanged
	// for at least olderThan, oldest first.
	StaleBuckets(olderThan time.Duration) []nodeid.ID
}

// StorageConfig is what a storage needs to know about its owner.
type StorageConfig struct {
	LocalID     nodeid.ID
	BucketSize  int
	Freshness   time.Duration
	MaxFailures int
	Clock       clock.Clock
}

func (c StorageConfig) withDefaults() StorageConfig {
	if c.BucketSize <= 0 {
		c.BucketSize = 8
	}
	if c.Freshness <= 0 {
		c.Freshness = 15 * time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 2
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// StorageFactory builds the node storage for a DHT.
type StorageFactory func(cfg StorageConfig) NodeStorage

// nodeList helpers shared by the storage implementations.

func indexOfNode(nodes []*Node, id nodeid.ID) int {
	for i, n := range nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// oldestWithStatus returns the index of the least recently active node
// with the given status, or -1.
func oldestWithStatus(nodes []*Node, status NodeStatus, cfg StorageConfig, now time.Time) int {
	victim := -1
	for i, n := range nodes {
		if n.Status(now, cfg.Freshness, cfg.MaxFailures) != status {
			continue
		}
		if victim < 0 || n.LastActive().Before(nodes[victim].LastActive()) {
			victim = i
		}
	}
	return victim
}

// evictionVictim applies the replacement policy for a full node list:
// the oldest bad node goes first; a verified newcomer may also displace
// the oldest questionable node. Good nodes are never evicted.
func evictionVictim(nodes []*Node, verified bool, cfg StorageConfig, now time.Time) int {
	if i := oldestWithStatus(nodes, StatusBad, cfg, now); i >= 0 {
		return i
	}
	if verified {
		return oldestWithStatus(nodes, StatusQuestionable, cfg, now)
	}
	return -1
}

// sortByDistance orders nodes closest to target first, breaking ties by
// most recent activity.
func sortByDistance(nodes []Node, target nodeid.ID) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if c := nodeid.CompareDistance(target, nodes[i].ID, nodes[j].ID); c != 0 {
			return c < 0
		}
		return nodes[i].LastActive().After(nodes[j].LastActive())
	})
}

func closestOf(nodes []*Node, target nodeid.ID, count int, cfg StorageConfig, now time.Time) []Node {
	if count <= 0 {
		return nil
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status(now, cfg.Freshness, cfg.MaxFailures) == StatusBad {
			continue
		}
		out = append(out, *n)
	}
	sortByDistance(out, target)
	if len(out) > count {
		out = out[:count]
	}
	return out
}
