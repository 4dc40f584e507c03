package limits

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		maxSize int
		wantErr error
	}{
		{
			name:    "empty datagram",
			data:    []byte{},
			maxSize: 100,
			wantErr: ErrDatagramEmpty,
		},
		{
			name:    "within limit",
			data:    make([]byte, 50),
			maxSize: 100,
		},
		{
			name:    "at exact limit",
			data:    make([]byte, 100),
			maxSize: 100,
		},
		{
			name:    "exceeds limit",
			data:    make([]byte, 101),
			maxSize: 100,
			wantErr: ErrDatagramTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.data, tt.maxSize)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDatagram(t *testing.T) {
	if err := ValidateDatagram(make([]byte, MaxDatagramSize)); err != nil {
		t.Errorf("datagram at limit rejected: %v", err)
	}
	if err := ValidateDatagram(make([]byte, MaxDatagramSize+1)); !errors.Is(err, ErrDatagramTooLarge) {
		t.Errorf("oversized datagram accepted, err = %v", err)
	}
}

func TestValidateToken(t *testing.T) {
	if err := ValidateToken(""); err != nil {
		t.Errorf("empty token rejected: %v", err)
	}
	if err := ValidateToken(strings.Repeat("x", MaxTokenLength)); err != nil {
		t.Errorf("token at limit rejected: %v", err)
	}
	if err := ValidateToken(strings.Repeat("x", MaxTokenLength+1)); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("long token accepted, err = %v", err)
	}
}

func TestCompactSizes(t *testing.T) {
	if CompactNodeSize != 20+CompactPeerSize {
		t.Errorf("compact node size %d should be an ID plus a compact peer", CompactNodeSize)
	}
	if MaxCompactNodes*CompactNodeSize > MaxDatagramSize {
		t.Errorf("a full node list cannot fit in one datagram")
	}
}
