package phpserial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_RecomputesLengths(t *testing.T) {
	n, err := Decode(`a:2:{s:1:"a";s:13:"foo-TOKEN-bar";s:1:"b";a:2:{i:0;s:7:"x-TOKEN";i:1;i:3;}}`)
	require.NoError(t, err)

	n.Entries[0].Value.Str = "foo-Y-bar"
	n.Entries[1].Value.Items[0].Str = "x-Y"

	out, err := Encode(n)
	require.NoError(t, err)
	assert.Equal(t, `a:2:{s:1:"a";s:9:"foo-Y-bar";s:1:"b";a:2:{i:0;s:3:"x-Y";i:1;i:3;}}`, out)

	again, err := Decode(out)
	require.NoError(t, err)
	assert.True(t, Equal(n, again))
}

func TestEncode_Constructors(t *testing.T) {
	n := Mapping(
		StrEntry("name", FromString("widget")),
		IntEntry(3, Sequence(FromBool(true), Null(), FromFloat(0.25))),
		StrEntry("obj", Object("stdClass", StrEntry("v", FromInt(-4)))),
	)

	out, err := Encode(n)
	require.NoError(t, err)
	assert.Equal(t,
		`a:3:{s:4:"name";s:6:"widget";i:3;a:3:{i:0;b:1;i:1;N;i:2;d:0.25;}s:3:"obj";O:8:"stdClass":1:{s:1:"v";i:-4;}}`,
		out)
}

func TestEncode_PreservesClassName(t *testing.T) {
	n, err := Decode(`O:10:"WP_Post_X1":1:{s:5:"title";s:3:"old";}`)
	require.NoError(t, err)

	n.Entries[0].Value.Str = "renamed"
	out, err := Encode(n)
	require.NoError(t, err)
	assert.Equal(t, `O:10:"WP_Post_X1":1:{s:5:"title";s:7:"renamed";}`, out)
}

func TestEncode_Inconsistency(t *testing.T) {
	tests := []struct {
		name string
		node *Node
	}{
		{"nil", nil},
		{"nil item", Sequence(FromInt(1), nil)},
		{"nil entry value", Mapping(Entry{Key: FromString("k")})},
		{"bool key", Mapping(Entry{Key: FromBool(true), Value: Null()})},
		{"bad int literal", &Node{Kind: KindInt, Number: "1.5"}},
		{"bad float literal", &Node{Kind: KindFloat, Number: "one"}},
		{"empty class", Object("")},
		{"incomplete without payload", &Node{Kind: KindIncomplete}},
		{"unknown kind", &Node{Kind: Kind(200)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.node)
			require.ErrorIs(t, err, ErrEncodeInconsistency)
		})
	}
}

func TestFromFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.1, "0.1"},
		{1.5, "1.5"},
		{-2, "-2"},
		{1000000, "1000000"},
		{0.0001, "0.0001"},
		{1e-5, "1.0E-5"},
		{1e25, "1.0E+25"},
		{1.25e20, "1.25E+20"},
		{math.Inf(1), "INF"},
		{math.Inf(-1), "-INF"},
		{math.NaN(), "NAN"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, FromFloat(tc.in).Number)
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := Mapping(StrEntry("k", Sequence(FromString("v"))))
	cp := orig.Clone()
	require.True(t, Equal(orig, cp))

	cp.Entries[0].Value.Items[0].Str = "changed"
	assert.Equal(t, "v", orig.Entries[0].Value.Items[0].Str)
	assert.False(t, Equal(orig, cp))
}
