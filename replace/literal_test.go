package replace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplaceLiteral(t *testing.T) {
	tests := []struct {
		name string
		s    string
		find string
		to   string
		fold bool
		want string
	}{
		{"no match", "hello", "x", "y", false, "hello"},
		{"all occurrences", "a-a-a", "a", "bb", false, "bb-bb-bb"},
		{"case sensitive miss", "Hello", "hello", "bye", false, "Hello"},
		{"folded match", "Hello HELLO hello", "hello", "bye", true, "bye bye bye"},
		{"folded keeps surrounding case", "xABCy", "abc", "-", true, "x-y"},
		{"non ascii bytes must match exactly", "Éa éa", "éa", "z", true, "Éa z"},
		{"replacement containing find", "ab", "a", "aa", true, "aab"},
		{"empty find", "abc", "", "x", true, "abc"},
		{"delete", "a.b.c", ".", "", false, "abc"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, replaceLiteral(tc.s, tc.find, tc.to, tc.fold))
		})
	}
}

func TestLowerASCII(t *testing.T) {
	assert.Equal(t, "abc", lowerASCII("abc"))
	assert.Equal(t, "abc-déf", lowerASCII("ABC-déF"))
	assert.Equal(t, len("ÀB"), len(lowerASCII("ÀB")))
}
