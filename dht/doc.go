// Package dht implements a BitTorrent Mainline DHT node (BEP 5), providing
// node discovery, peer lookup and peer announcement over KRPC.
//
// # Architecture
//
// The DHT lets nodes find each other and the peers of a torrent without a
// central tracker. Every node and every torrent has a 160-bit identifier
// and nodes keep contact information for others in proportion to how
// close they are in XOR distance.
//
// Key components:
//
//   - NodeStorage: the routing table (BucketStorage, or FlatStorage for
//     minimal clients)
//   - transactionManager: matches KRPC responses to outstanding queries
//     and times them out
//   - lookup: the iterative search shared by FindNodes, GetPeers and
//     AnnouncePeer
//   - peerStore: peers announced to this node, served in get_peers replies
//   - maintenance: re-bootstrap, bucket refresh, pings, pruning, token
//     rotation and peer expiry
//
// # Running a Node
//
//	coordinator := shutdown.New()
//	node, err := dht.New(dht.NewOptions(), coordinator)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go node.Run()
//
//	result, err := node.GetPeers(ctx, infoHash, 30*time.Second)
//	...
//	coordinator.Shutdown(ctx)
//
// Run resolves the bootstrap routers, fills the routing table with a
// lookup for a random ID and then serves queries until the coordinator
// signals shutdown.
//
// # Node Status
//
// A node's status is derived from its history rather than stored:
//
//	StatusGood          answered within NodeFreshness, or has answered
//	                    before and queried us within NodeFreshness
//	StatusQuestionable  never answered, gone quiet, or failed fewer than
//	                    MaxNodeFailures consecutive queries
//	StatusBad           failed MaxNodeFailures consecutive queries
//
// When a bucket is full the oldest bad node is replaced first; a node that
// just answered us may also replace the oldest questionable one. Good
// nodes are never evicted.
//
// # Read-only Nodes
//
// With Settings.ReadOnly the node flags its queries with ro=1 (BEP 43),
// never answers queries and refuses AnnouncePeer with ErrReadOnly before
// sending anything.
//
// # Error Handling
//
// Sentinel errors are matched with errors.Is:
//
//	var opErr *dht.OperationError
//	if errors.As(err, &opErr) && errors.Is(err, dht.ErrNoResponse) {
//	    // nobody answered, as opposed to an empty result
//	}
//
// # Thread Safety
//
// All exported methods of DHT are safe for concurrent use. Operations run
// on the caller's goroutine; the receive, sweep and maintenance loops run
// as tasks of the shutdown coordinator.
package dht
