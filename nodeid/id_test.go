package nodeid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", strings.Repeat("ab", Size), nil},
		{"uppercase", strings.Repeat("AB", Size), nil},
		{"short", "abcd", ErrInvalidLength},
		{"long", strings.Repeat("00", Size+1), ErrInvalidLength},
		{"not hex", strings.Repeat("zz", Size), ErrInvalidHex},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := ParseHex(tc.input)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(tc.input), id.String())
		})
	}
}

func TestFromBytes(t *testing.T) {
	_, err := FromBytes(make([]byte, 19))
	assert.ErrorIs(t, err, ErrInvalidLength)

	raw := []byte("abcdefghij0123456789")
	id, err := FromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), id.RawString())

	// The ID must not alias the input.
	raw[0] = 'z'
	assert.Equal(t, byte('a'), id[0])
}

func TestDistanceProperties(t *testing.T) {
	for i := 0; i < 50; i++ {
		a, b, c := Random(), Random(), Random()

		assert.True(t, a.Distance(a).IsZero(), "d(a,a) must be zero")
		assert.Equal(t, a.Distance(b), b.Distance(a), "distance must be symmetric")
		assert.Equal(t, a.Distance(c), a.Distance(b).Xor(b.Distance(c)),
			"d(a,c) must equal d(a,b) xor d(b,c)")
	}
}

func TestBigMatchesCompare(t *testing.T) {
	for i := 0; i < 50; i++ {
		a, b := Random(), Random()
		assert.Equal(t, a.Big().Cmp(b.Big()), Compare(a, b))
	}
}

func TestCompareDistance(t *testing.T) {
	target := MustParseHex("0000000000000000000000000000000000000000")
	near := MustParseHex("0000000000000000000000000000000000000001")
	far := MustParseHex("8000000000000000000000000000000000000000")

	assert.Equal(t, -1, CompareDistance(target, near, far))
	assert.Equal(t, 1, CompareDistance(target, far, near))
	assert.Equal(t, 0, CompareDistance(target, far, far))
}

func TestCommonPrefixLen(t *testing.T) {
	a := MustParseHex("ffffffffffffffffffffffffffffffffffffffff")
	assert.Equal(t, Bits, a.CommonPrefixLen(a))
	assert.Equal(t, 0, a.CommonPrefixLen(ID{}))

	b := a.WithBitFlipped(13)
	assert.Equal(t, 13, a.CommonPrefixLen(b))
	assert.Equal(t, 0, b.Bit(13))
	assert.Equal(t, 1, a.Bit(13))
}

func TestRandomWithPrefix(t *testing.T) {
	prefix := Random()
	for _, n := range []int{1, 7, 8, 9, 63, 159} {
		id := RandomWithPrefix(prefix, n)
		assert.GreaterOrEqual(t, id.CommonPrefixLen(prefix), n, "prefix of %d bits", n)
	}
	assert.Equal(t, prefix, RandomWithPrefix(prefix, Bits))
}
