package dht

import (
	"time"

	"github.com/opd-ai/mainline/krpc"
)

// NodeStatus is the health of a known node, derived from its history.
type NodeStatus uint8

const (
	StatusQuestionable NodeStatus = iota
	StatusGood
	StatusBad
)

func (s NodeStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusBad:
		return "bad"
	default:
		return "questionable"
	}
}

// Node is a remote node together with what we know of its behaviour.
type Node struct {
	krpc.NodeInfo

	FirstSeen time.Time
	// LastResponse is when it last answered one of our queries.
	LastResponse time.Time
	// LastQuery is when it last sent us a query.
	LastQuery time.Time
	// LastSent is when we last sent it a query.
	LastSent time.Time
	// Failures counts consecutive unanswered queries.
	Failures int
	// BadSince is when Failures reached the bad threshold.
	BadSince time.Time
}

func newNode(info krpc.NodeInfo, now time.Time) *Node {
	return &Node{NodeInfo: info, FirstSeen: now}
}

// Status derives the node's health at now.
func (n *Node) Status(now time.Time, freshness time.Duration, maxFailures int) NodeStatus {
	if n.Failures >= maxFailures {
		return StatusBad
	}
	if n.Failures > 0 || n.LastResponse.IsZero() {
		return StatusQuestionable
	}
	if now.Sub(n.LastResponse) < freshness {
		return StatusGood
	}
	if !n.LastQuery.IsZero() && now.Sub(n.LastQuery) < freshness {
		return StatusGood
	}
	return StatusQuestionable
}

// LastActive is the most recent time the node showed any sign of life.
func (n *Node) LastActive() time.Time {
	last := n.FirstSeen
	if n.LastResponse.After(last) {
		last = n.LastResponse
	}
	if n.LastQuery.After(last) {
		last = n.LastQuery
	}
	return last
}

func (n *Node) apply(outcome Outcome, now time.Time, maxFailures int) {
	switch outcome {
	case OutcomeQuerySent:
		n.LastSent = now
	case OutcomeResponded:
		n.LastResponse = now
		n.Failures = 0
		n.BadSince = time.Time{}
	case OutcomeQueried:
		n.LastQuery = now
	case OutcomeTimeout, OutcomeError:
		n.Failures++
		if n.Failures >= maxFailures && n.BadSince.IsZero() {
			n.BadSince = now
		}
	}
}
