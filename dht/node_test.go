package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeStatus(t *testing.T) {
	const freshness = 15 * time.Minute
	const maxFailures = 2
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		node Node
		want NodeStatus
	}{
		{
			name: "never responded",
			node: Node{FirstSeen: now},
			want: StatusQuestionable,
		},
		{
			name: "responded recently",
			node: Node{LastResponse: now.Add(-time.Minute)},
			want: StatusGood,
		},
		{
			name: "responded long ago but queried us recently",
			node: Node{LastResponse: now.Add(-time.Hour), LastQuery: now.Add(-time.Minute)},
			want: StatusGood,
		},
		{
			name: "queried us recently but never responded",
			node: Node{LastQuery: now.Add(-time.Minute)},
			want: StatusQuestionable,
		},
		{
			name: "stale",
			node: Node{LastResponse: now.Add(-time.Hour)},
			want: StatusQuestionable,
		},
		{
			name: "one failure",
			node: Node{LastResponse: now.Add(-time.Minute), Failures: 1},
			want: StatusQuestionable,
		},
		{
			name: "max failures",
			node: Node{LastResponse: now.Add(-time.Minute), Failures: 2},
			want: StatusBad,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.Status(now, freshness, maxFailures))
		})
	}
}

func TestNodeApply(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	n := &Node{FirstSeen: now}

	n.apply(OutcomeQuerySent, now, 2)
	assert.Equal(t, now, n.LastSent)

	n.apply(OutcomeTimeout, now, 2)
	assert.Equal(t, 1, n.Failures)
	assert.True(t, n.BadSince.IsZero())

	later := now.Add(time.Second)
	n.apply(OutcomeError, later, 2)
	assert.Equal(t, 2, n.Failures)
	assert.Equal(t, later, n.BadSince)

	n.apply(OutcomeResponded, later, 2)
	assert.Zero(t, n.Failures)
	assert.True(t, n.BadSince.IsZero())
	assert.Equal(t, later, n.LastActive())
}
