package dht

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var localID = nodeid.MustParseHex("8000000000000000000000000000000000000000")

func testStorageConfig(clk clock.Clock) StorageConfig {
	return StorageConfig{
		LocalID:     localID,
		BucketSize:  8,
		Freshness:   15 * time.Minute,
		MaxFailures: 2,
		Clock:       clk,
	}
}

func testAddr(i int) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 1, byte(i >> 8), byte(i)}), 6881)
}

// farNode returns a node in the half of the space not containing localID.
func farNode(i int) krpc.NodeInfo {
	var id nodeid.ID
	id[18] = byte(i >> 8)
	id[19] = byte(i)
	return krpc.NodeInfo{ID: id, Addr: testAddr(i)}
}

// nearNode returns a node sharing at least one prefix bit with localID.
func nearNode(i int) krpc.NodeInfo {
	id := localID
	id[18] = byte(i >> 8)
	id[19] = byte(i)
	return krpc.NodeInfo{ID: id, Addr: testAddr(1000 + i)}
}

func storedIDs(nodes []Node) map[nodeid.ID]bool {
	ids := make(map[nodeid.ID]bool)
	for _, n := range nodes {
		ids[n.ID] = true
	}
	return ids
}

// fillFar adds far nodes 1..8, one second apart.
func fillFar(t *testing.T, bs *BucketStorage, mock *clock.Mock, verified bool) {
	t.Helper()
	for i := 1; i <= 8; i++ {
		require.True(t, bs.AddOrUpdate(farNode(i), verified))
		mock.Add(time.Second)
	}
}

func TestBucketStorageRejectsSelf(t *testing.T) {
	bs := NewBucketStorage(testStorageConfig(clock.NewMock()))
	assert.False(t, bs.AddOrUpdate(krpc.NodeInfo{ID: localID, Addr: testAddr(1)}, true))
	_, total := bs.Count()
	assert.Zero(t, total)
}

func TestBucketStorageCapacity(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, false)

	assert.False(t, bs.AddOrUpdate(farNode(9), false), "full bucket must reject an unverified newcomer")

	_, total := bs.Count()
	assert.Equal(t, 8, total)
	assert.Equal(t, 2, bs.BucketCount(), "the bucket holding the local ID splits before rejecting")
}

func TestBucketStorageSplitsTowardLocalID(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, false)
	for i := 1; i <= 8; i++ {
		require.True(t, bs.AddOrUpdate(nearNode(i), false))
	}

	_, total := bs.Count()
	assert.Equal(t, 16, total)
	assert.LessOrEqual(t, bs.BucketCount(), nodeid.Bits)

	before := bs.BucketCount()
	require.True(t, bs.Remove(nearNode(1).ID))
	assert.Equal(t, before, bs.BucketCount(), "bucket count never shrinks")
}

func TestBucketStorageVerifiedEvictsOldestQuestionable(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, false)

	require.True(t, bs.AddOrUpdate(farNode(9), true))

	ids := storedIDs(bs.All())
	assert.False(t, ids[farNode(1).ID], "oldest questionable node is evicted")
	assert.True(t, ids[farNode(9).ID])
	assert.Len(t, ids, 8)
}

func TestBucketStorageNeverEvictsGood(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, true)

	assert.False(t, bs.AddOrUpdate(farNode(9), true))
	good, total := bs.Count()
	assert.Equal(t, 8, good)
	assert.Equal(t, 8, total)
}

func TestBucketStorageTimeoutsLeadToEviction(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, true)

	victim := farNode(5).ID
	now := mock.Now()
	require.True(t, bs.MarkInteraction(victim, OutcomeTimeout))

	status := func() NodeStatus {
		for _, n := range bs.All() {
			if n.ID == victim {
				return n.Status(now, 15*time.Minute, 2)
			}
		}
		t.Fatalf("node %s not stored", victim)
		return 0
	}
	assert.Equal(t, StatusQuestionable, status(), "one timeout makes a node questionable")

	// An unverified newcomer cannot displace a questionable node.
	assert.False(t, bs.AddOrUpdate(farNode(9), false))

	require.True(t, bs.MarkInteraction(victim, OutcomeTimeout))
	assert.Equal(t, StatusBad, status())

	require.True(t, bs.AddOrUpdate(farNode(9), false), "a bad node gives way to any newcomer")
	ids := storedIDs(bs.All())
	assert.False(t, ids[victim])
	assert.True(t, ids[farNode(9).ID])
}

func TestBucketStorageFindClosest(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, true)
	for i := 1; i <= 4; i++ {
		require.True(t, bs.AddOrUpdate(nearNode(i), true))
	}

	target := farNode(3).ID
	closest := bs.FindClosest(target, 5)
	require.Len(t, closest, 5)
	assert.Equal(t, target, closest[0].ID)
	for i := 1; i < len(closest); i++ {
		assert.LessOrEqual(t, nodeid.CompareDistance(target, closest[i-1].ID, closest[i].ID), 0)
	}

	// Bad nodes are not handed out.
	bs.MarkInteraction(target, OutcomeTimeout)
	bs.MarkInteraction(target, OutcomeTimeout)
	closest = bs.FindClosest(target, 5)
	assert.NotEqual(t, target, closest[0].ID)

	assert.Empty(t, bs.FindClosest(target, 0))
	assert.Len(t, bs.FindClosest(target, 100), 11)
}

func TestBucketStorageAddressChange(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	info := farNode(1)
	require.True(t, bs.AddOrUpdate(info, true))

	moved := krpc.NodeInfo{ID: info.ID, Addr: testAddr(99)}
	require.True(t, bs.AddOrUpdate(moved, false))
	assert.Equal(t, info.Addr, bs.All()[0].Addr, "unverified claims never move a node")

	require.True(t, bs.AddOrUpdate(moved, true))
	assert.Equal(t, moved.Addr, bs.All()[0].Addr)
}

func TestBucketStoragePrune(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, true)

	bad := farNode(2).ID
	bs.MarkInteraction(bad, OutcomeTimeout)
	bs.MarkInteraction(bad, OutcomeTimeout)

	assert.Zero(t, bs.Prune(time.Hour))
	mock.Add(time.Hour)
	assert.Equal(t, 1, bs.Prune(time.Hour))
	assert.False(t, storedIDs(bs.All())[bad])
}

func TestBucketStorageStaleBuckets(t *testing.T) {
	mock := clock.NewMock()
	bs := NewBucketStorage(testStorageConfig(mock))
	fillFar(t, bs, mock, false)
	bs.AddOrUpdate(farNode(9), false)
	require.Equal(t, 2, bs.BucketCount())

	assert.Empty(t, bs.StaleBuckets(time.Hour))

	mock.Add(time.Hour)
	stale := bs.StaleBuckets(time.Hour)
	require.Len(t, stale, 2)

	// The far bucket was last changed when the eighth node was added;
	// the near bucket inherited the same timestamp at the split.
	for _, target := range stale {
		assert.NotEqual(t, localID, target)
	}
	assert.Zero(t, localID.CommonPrefixLen(stale[0]), "far bucket refresh target lies in the far half")
	assert.GreaterOrEqual(t, localID.CommonPrefixLen(stale[1]), 1)
}

func TestFlatStorage(t *testing.T) {
	mock := clock.NewMock()
	fs := NewFlatStorage(testStorageConfig(mock), 3)

	for i := 1; i <= 3; i++ {
		require.True(t, fs.AddOrUpdate(farNode(i), false))
		mock.Add(time.Second)
	}
	assert.False(t, fs.AddOrUpdate(farNode(4), false))
	require.True(t, fs.AddOrUpdate(farNode(4), true))

	ids := storedIDs(fs.All())
	assert.False(t, ids[farNode(1).ID])
	assert.True(t, ids[farNode(4).ID])

	good, total := fs.Count()
	assert.Equal(t, 1, good)
	assert.Equal(t, 3, total)

	closest := fs.FindClosest(farNode(4).ID, 1)
	require.Len(t, closest, 1)
	assert.Equal(t, farNode(4).ID, closest[0].ID)

	fs.MarkInteraction(farNode(2).ID, OutcomeTimeout)
	fs.MarkInteraction(farNode(2).ID, OutcomeTimeout)
	mock.Add(time.Hour)
	assert.Equal(t, 1, fs.Prune(time.Hour))
	assert.True(t, fs.Remove(farNode(3).ID))
	assert.False(t, fs.Remove(farNode(3).ID))
}
