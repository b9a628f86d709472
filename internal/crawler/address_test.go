package crawler

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressChild(t *testing.T) {
	root := Address{}
	a := root.Child(1)
	b := a.Child(4)
	c := b.Child(0)

	assert.Equal(t, Address{1}, a)
	assert.Equal(t, Address{1, 4}, b)
	assert.Equal(t, Address{1, 4, 0}, c)

	// Children must not alias each other's backing arrays.
	d := a.Child(7)
	assert.Equal(t, Address{1, 4}, b)
	assert.Equal(t, Address{1, 7}, d)
}

func TestAddressCompare(t *testing.T) {
	cases := []struct {
		a, b Address
		want int
	}{
		{Address{1, 2}, Address{1, 3}, -1},
		{Address{1, 3}, Address{1, 2}, 1},
		{Address{1, 2}, Address{1, 2}, 0},
		{Address{1}, Address{1, 2, 0}, -1}, // strict prefix sorts first
		{Address{1, 2, 0}, Address{1}, 1},
		{nil, Address{0}, -1},
		{nil, nil, 0},
		{Address{}, nil, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.a.Compare(tc.b), "%v vs %v", tc.a, tc.b)
	}
}

func TestAddressTruncate(t *testing.T) {
	a := Address{1, 2, 0}
	assert.Equal(t, Address{1}, a.Truncate(1))
	assert.Equal(t, Address{1, 2}, a.Truncate(2))
	assert.Equal(t, a, a.Truncate(3))
	assert.Equal(t, a, a.Truncate(10))
	assert.Empty(t, a.Truncate(0))
}

func TestAddressPrefixMatchForResumption(t *testing.T) {
	// [1] truncated against [1,2,0] at length 1 is a prefix-equal match.
	resume := Address{1, 2, 0}
	assert.True(t, resume.Truncate(1).Equal(Address{1}))

	// The empty address matches the root.
	assert.True(t, Address{}.Equal(nil))
}

func TestAddressStringRoundTrip(t *testing.T) {
	for _, a := range []Address{{}, {0}, {1, 4, 0}, {8, 8, 8, 8}} {
		parsed, err := ParseAddress(a.String())
		require.NoError(t, err)
		assert.True(t, parsed.Equal(a), "round trip of %v", a)
	}

	parsed, err := ParseAddress(" 0 , 2 ")
	require.NoError(t, err)
	assert.Equal(t, Address{0, 2}, parsed)
}

func TestParseAddress_Invalid(t *testing.T) {
	for _, s := range []string{"a", "1,b", "1,-2", "1,,2"} {
		_, err := ParseAddress(s)
		require.Error(t, err, "input %q", s)
		assert.True(t, eris.Is(err, ErrBadResume), "input %q", s)
	}
}
