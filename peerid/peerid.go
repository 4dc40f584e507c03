// Package peerid generates and decodes BitTorrent peer IDs.
//
// Generated IDs use the Azureus convention: an eight byte "-CCVVVV-"
// prefix naming the client and its version, followed by random bytes.
package peerid

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/mainline/nodeid"
)

// Prefix identifies this client in generated peer IDs.
const Prefix = "-MG0001-"

// Kind is the client family encoded in an Azureus-style peer ID.
type Kind int

const (
	KindOther Kind = iota
	KindDeluge
	KindLibTorrent
	KindTransmission
	KindMainline
)

func (k Kind) String() string {
	switch k {
	case KindDeluge:
		return "Deluge"
	case KindLibTorrent:
		return "libtorrent"
	case KindTransmission:
		return "Transmission"
	case KindMainline:
		return "mainline-go"
	default:
		return "other"
	}
}

func kindFromCode(code string) Kind {
	switch code {
	case "DE":
		return KindDeluge
	case "lt", "LT":
		return KindLibTorrent
	case "TR":
		return KindTransmission
	case "MG":
		return KindMainline
	default:
		return KindOther
	}
}

// Client describes the software that produced a peer ID.
type Client struct {
	Kind Kind
	// Code is the two character client code, kept even for KindOther.
	Code    string
	Version string
}

func (c Client) String() string {
	return fmt.Sprintf("%s (%s) %s", c.Kind, c.Code, c.Version)
}

// Generate returns a fresh peer ID carrying Prefix. The remaining twelve
// bytes come from a version 4 UUID.
func Generate() nodeid.ID {
	var id nodeid.ID
	u := uuid.New()
	copy(id[len(Prefix):], u[:nodeid.Size-len(Prefix)])
	copy(id[:], Prefix)
	return id
}

// Decode reports the client encoded in an Azureus-style peer ID. ok is
// false when id does not follow the convention.
func Decode(id nodeid.ID) (client Client, ok bool) {
	if id[0] != '-' || id[7] != '-' {
		return Client{}, false
	}
	code := string(id[1:3])
	return Client{
		Kind:    kindFromCode(code),
		Code:    code,
		Version: string(id[3:7]),
	}, true
}
