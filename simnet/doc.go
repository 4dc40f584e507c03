// Package simnet is an in-memory datagram network for tests and
// simulations.
//
// Endpoints created on a Network implement transport.Transport. Every
// datagram sent on the network is recorded, whether or not it was
// delivered, so tests can assert on exactly what a node put on the wire.
// Delivery can be suppressed globally or per datagram with a filter to
// model unreachable hosts and packet loss.
package simnet
