// Package addrsrc helps a DHT node figure out its globally routable
// IPv4 address.
//
// Mainline DHT responses carry an "ip" key (BEP 42) telling the querier
// which address the responder saw. A node feeds every such observation
// into an IPv4Source and asks it for the best candidate:
//
//	src := addrsrc.NewConsensus(2, 10)
//	src.AddVote(responderAddr, reportedIP)
//	if ip, ok := src.BestIPv4(); ok {
//	    // ip is the externally visible address
//	}
//
// Consensus trades convergence speed (a small quorum) against resistance
// to spoofing or misreporting peers (a large quorum plus a minimum number
// of distinct reporters). Addresses that can never be globally routable
// are rejected outright, whatever their vote count.
package addrsrc
