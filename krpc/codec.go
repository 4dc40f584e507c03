package krpc

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/mainline/limits"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/zeebo/bencode"
)

// TransactionIDSize is the length of transaction ids generated locally.
const TransactionIDSize = 2

// TransactionID renders n as a 2-byte big-endian transaction id.
func TransactionID(n uint16) string {
	var b [TransactionIDSize]byte
	binary.BigEndian.PutUint16(b[:], n)
	return string(b[:])
}

// Marshal bencodes a message.
func Marshal(m *Message) ([]byte, error) {
	data, err := bencode.EncodeBytes(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(data) > limits.MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds datagram limit", ErrEncode, len(data))
	}
	return data, nil
}

// Unmarshal decodes and validates a datagram.
func Unmarshal(data []byte) (*Message, error) {
	if err := limits.ValidateDatagram(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var m Message
	if err := bencode.DecodeBytes(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Message) validate() error {
	if m.T == "" {
		return fmt.Errorf("%w: missing transaction id", ErrDecode)
	}

	switch m.Y {
	case TypeQuery:
		if m.Q == "" {
			return fmt.Errorf("%w: query without method", ErrDecode)
		}
		if m.A == nil {
			return fmt.Errorf("%w: query without arguments", ErrDecode)
		}
		if len(m.A.ID) != nodeid.Size {
			return fmt.Errorf("%w: query sender id has %d bytes", ErrDecode, len(m.A.ID))
		}
	case TypeResponse:
		if m.R == nil {
			return fmt.Errorf("%w: response without values", ErrDecode)
		}
		if len(m.R.ID) != nodeid.Size {
			return fmt.Errorf("%w: response sender id has %d bytes", ErrDecode, len(m.R.ID))
		}
	case TypeError:
		if _, err := m.ErrorValue(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrDecode, m.Y)
	}
	return nil
}
