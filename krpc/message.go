package krpc

import (
	"fmt"

	"github.com/opd-ai/mainline/nodeid"
)

// Message types carried in the "y" key.
const (
	TypeQuery    = "q"
	TypeResponse = "r"
	TypeError    = "e"
)

// Query methods understood by the engine.
const (
	MethodPing         = "ping"
	MethodFindNode     = "find_node"
	MethodGetPeers     = "get_peers"
	MethodAnnouncePeer = "announce_peer"
)

// Error codes defined by BEP 5.
const (
	ErrorGeneric       = 201
	ErrorServer        = 202
	ErrorProtocol      = 203
	ErrorMethodUnknown = 204
)

// Message is a KRPC envelope. Exactly one of A, R or E is set depending
// on Y.
type Message struct {
	A  *Args         `bencode:"a,omitempty"`
	E  []interface{} `bencode:"e,omitempty"`
	IP string        `bencode:"ip,omitempty"`
	Q  string        `bencode:"q,omitempty"`
	R  *Return       `bencode:"r,omitempty"`
	RO int           `bencode:"ro,omitempty"`
	T  string        `bencode:"t"`
	V  string        `bencode:"v,omitempty"`
	Y  string        `bencode:"y"`
}

// Args holds query arguments. Binary values (ids, tokens) are raw strings.
type Args struct {
	ID          string `bencode:"id"`
	ImpliedPort int    `bencode:"implied_port,omitempty"`
	InfoHash    string `bencode:"info_hash,omitempty"`
	Port        int    `bencode:"port,omitempty"`
	Target      string `bencode:"target,omitempty"`
	Token       string `bencode:"token,omitempty"`
}

// Return holds response values.
type Return struct {
	ID     string   `bencode:"id"`
	Nodes  string   `bencode:"nodes,omitempty"`
	Token  string   `bencode:"token,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

// Error is the decoded form of an "e" list.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("krpc error %d: %s", e.Code, e.Message)
}

// NewQuery builds a query message.
func NewQuery(tid, method string, args Args) *Message {
	return &Message{
		T: tid,
		Y: TypeQuery,
		Q: method,
		A: &args,
	}
}

// NewResponse builds a response message.
func NewResponse(tid string, ret Return) *Message {
	return &Message{
		T: tid,
		Y: TypeResponse,
		R: &ret,
	}
}

// NewError builds an error message.
func NewError(tid string, code int, message string) *Message {
	return &Message{
		T: tid,
		Y: TypeError,
		E: []interface{}{int64(code), message},
	}
}

// IsQuery reports whether the message is a query.
func (m *Message) IsQuery() bool { return m.Y == TypeQuery }

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool { return m.Y == TypeResponse }

// IsError reports whether the message is an error.
func (m *Message) IsError() bool { return m.Y == TypeError }

// ReadOnly reports whether the sender flagged itself read-only (BEP 43).
func (m *Message) ReadOnly() bool { return m.RO == 1 }

// SenderID returns the "id" of a query or response. Errors carry none.
func (m *Message) SenderID() (nodeid.ID, bool) {
	var raw string
	switch {
	case m.IsQuery() && m.A != nil:
		raw = m.A.ID
	case m.IsResponse() && m.R != nil:
		raw = m.R.ID
	default:
		return nodeid.ID{}, false
	}
	id, err := nodeid.FromString(raw)
	if err != nil {
		return nodeid.ID{}, false
	}
	return id, true
}

// ErrorValue decodes the "e" list of an error message.
func (m *Message) ErrorValue() (*Error, error) {
	if len(m.E) < 2 {
		return nil, fmt.Errorf("%w: error list has %d elements", ErrDecode, len(m.E))
	}
	code, ok := m.E[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: error code is %T", ErrDecode, m.E[0])
	}
	msg, ok := m.E[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: error message is %T", ErrDecode, m.E[1])
	}
	return &Error{Code: int(code), Message: msg}, nil
}
