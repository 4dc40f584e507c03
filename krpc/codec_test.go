package krpc

import (
	"testing"

	"github.com/opd-ai/mainline/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sample messages from BEP 5.
const (
	pingQuery     = "d1:ad2:id20:abcdefghij0123456789e1:q4:ping1:t2:aa1:y1:qe"
	pingResponse  = "d1:rd2:id20:mnopqrstuvwxyz123456e1:t2:aa1:y1:re"
	genericError  = "d1:eli201e23:A Generic Error Ocurrede1:t2:aa1:y1:ee"
	findNodeQuery = "d1:ad2:id20:abcdefghij01234567896:target20:mnopqrstuvwxyz123456e1:q9:find_node1:t2:aa1:y1:qe"
	getPeersQuery = "d1:ad2:id20:abcdefghij01234567899:info_hash20:mnopqrstuvwxyz123456e1:q9:get_peers1:t2:aa1:y1:qe"
	announceQuery = "d1:ad2:id20:abcdefghij01234567891:implied_porti1e9:info_hash20:mnopqrstuvwxyz1234564:porti6881e5:token8:aoeusnthe1:q13:announce_peer1:t2:aa1:y1:qe"
)

func TestUnmarshalSpecExamples(t *testing.T) {
	t.Run("ping query", func(t *testing.T) {
		m, err := Unmarshal([]byte(pingQuery))
		require.NoError(t, err)
		assert.True(t, m.IsQuery())
		assert.Equal(t, MethodPing, m.Q)
		assert.Equal(t, "aa", m.T)
		id, ok := m.SenderID()
		require.True(t, ok)
		assert.Equal(t, "abcdefghij0123456789", id.RawString())
	})

	t.Run("ping response", func(t *testing.T) {
		m, err := Unmarshal([]byte(pingResponse))
		require.NoError(t, err)
		assert.True(t, m.IsResponse())
		assert.Equal(t, "mnopqrstuvwxyz123456", m.R.ID)
	})

	t.Run("error", func(t *testing.T) {
		m, err := Unmarshal([]byte(genericError))
		require.NoError(t, err)
		assert.True(t, m.IsError())
		e, err := m.ErrorValue()
		require.NoError(t, err)
		assert.Equal(t, ErrorGeneric, e.Code)
		assert.Equal(t, "A Generic Error Ocurred", e.Message)
		_, ok := m.SenderID()
		assert.False(t, ok)
	})

	t.Run("find_node", func(t *testing.T) {
		m, err := Unmarshal([]byte(findNodeQuery))
		require.NoError(t, err)
		assert.Equal(t, MethodFindNode, m.Q)
		assert.Equal(t, "mnopqrstuvwxyz123456", m.A.Target)
	})

	t.Run("get_peers", func(t *testing.T) {
		m, err := Unmarshal([]byte(getPeersQuery))
		require.NoError(t, err)
		assert.Equal(t, MethodGetPeers, m.Q)
		assert.Equal(t, "mnopqrstuvwxyz123456", m.A.InfoHash)
	})

	t.Run("announce_peer", func(t *testing.T) {
		m, err := Unmarshal([]byte(announceQuery))
		require.NoError(t, err)
		assert.Equal(t, MethodAnnouncePeer, m.Q)
		assert.Equal(t, 1, m.A.ImpliedPort)
		assert.Equal(t, 6881, m.A.Port)
		assert.Equal(t, "aoeusnth", m.A.Token)
	})
}

func TestMarshalMatchesSpecExamples(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "ping query",
			msg:  NewQuery("aa", MethodPing, Args{ID: "abcdefghij0123456789"}),
			want: pingQuery,
		},
		{
			name: "ping response",
			msg:  NewResponse("aa", Return{ID: "mnopqrstuvwxyz123456"}),
			want: pingResponse,
		},
		{
			name: "error",
			msg:  NewError("aa", ErrorGeneric, "A Generic Error Ocurred"),
			want: genericError,
		},
		{
			name: "announce_peer",
			msg: NewQuery("aa", MethodAnnouncePeer, Args{
				ID:          "abcdefghij0123456789",
				ImpliedPort: 1,
				InfoHash:    "mnopqrstuvwxyz123456",
				Port:        6881,
				Token:       "aoeusnth",
			}),
			want: announceQuery,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(tc.msg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(data))
		})
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not bencode", "hello world"},
		{"list instead of dict", "li1ei2ee"},
		{"missing transaction id", "d1:ad2:id20:abcdefghij0123456789e1:q4:ping1:y1:qe"},
		{"unknown type", "d1:t2:aa1:y1:xe"},
		{"query without args", "d1:q4:ping1:t2:aa1:y1:qe"},
		{"short sender id", "d1:ad2:id3:abce1:q4:ping1:t2:aa1:y1:qe"},
		{"response without values", "d1:t2:aa1:y1:re"},
		{"error without list", "d1:t2:aa1:y1:ee"},
		{"error with wrong element types", "d1:el3:abci201ee1:t2:aa1:y1:ee"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.input))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestResponseCarriesNodesAndValues(t *testing.T) {
	node := NodeInfo{ID: nodeid.Random(), Addr: mustAddrPort("203.0.113.5:6881")}
	msg := NewResponse("xy", Return{
		ID:     nodeid.Random().RawString(),
		Nodes:  EncodeCompactNodes([]NodeInfo{node}),
		Token:  "tok",
		Values: EncodeCompactPeers(peersFrom("198.51.100.1:1", "198.51.100.2:2")),
	})
	msg.IP, _ = EncodeCompactAddr(mustAddrPort("192.0.2.1:4000"))

	data, err := Marshal(msg)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	nodes, err := DecodeCompactNodes(got.R.Nodes)
	require.NoError(t, err)
	assert.Equal(t, []NodeInfo{node}, nodes)
	assert.Equal(t, peersFrom("198.51.100.1:1", "198.51.100.2:2"), DecodeCompactPeers(got.R.Values))

	ip, err := DecodeCompactAddr(got.IP)
	require.NoError(t, err)
	assert.Equal(t, mustAddrPort("192.0.2.1:4000"), ip)
}

func TestTransactionID(t *testing.T) {
	assert.Equal(t, "\x00\x01", TransactionID(1))
	assert.Equal(t, "\xff\xfe", TransactionID(0xfffe))
	assert.Len(t, TransactionID(0), TransactionIDSize)
}
