// Package mainline is a BitTorrent Mainline DHT (BEP 5) implementation.
//
// The DHT is a Kademlia-style distributed hash table that BitTorrent
// clients use to find peers for a torrent without a tracker. This module
// provides a complete node: the KRPC wire protocol, a bucketed routing
// table, the iterative lookups behind find_node, get_peers and
// announce_peer, and the server side that answers other nodes' queries.
//
// # Getting Started
//
// Create a node with options and a shutdown coordinator, run it, and
// issue operations against it:
//
//	coordinator := shutdown.New()
//
//	options := dht.NewOptions()
//	options.Settings.ReadOnly = true
//
//	node, err := dht.New(options, coordinator)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go node.Run()
//
//	result, err := node.GetPeers(ctx, infoHash, time.Minute)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, peer := range result.Peers {
//	    fmt.Println(peer)
//	}
//
//	coordinator.Shutdown(ctx)
//
// # Packages
//
//   - dht/: the node, routing tables, transactions and operations
//   - krpc/: bencoded KRPC messages and compact node/peer encodings
//   - nodeid/: 160-bit identifiers and XOR distance
//   - addrsrc/: external IPv4 discovery by voting on reported addresses
//   - transport/: the datagram transport interface and its UDP binding
//   - simnet/: an in-memory network for tests
//   - shutdown/: a coordinator that stops every task of a node together
//   - crypto/: random sources and announce token secrets
//   - limits/: protocol size limits
//   - config/: TOML configuration files
//   - peerid/: Azureus-style BitTorrent peer IDs
//
// # Configuration
//
// Settings may be loaded from a TOML file:
//
//	cfg, err := config.Load("node.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	options, err := cfg.Options()
//
// Keys missing from the file keep the values of dht.DefaultSettings.
//
// # Logging and Metrics
//
// All packages log through logrus with a "function" field naming the
// caller. A node registers Prometheus collectors on Options.Registerer,
// or on a private registry when none is given.
//
// # Examples
//
// The examples/ directory holds three command line drivers: get_peers,
// announce_peer and find_nodes. Each stops cleanly on Ctrl+C.
package mainline
