package phpserial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksEncoded(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"N;", true},
		{"  N;\n", true},
		{"b:0;", true},
		{"b:1;", true},
		{"i:42;", true},
		{"i:-42;", true},
		{"d:0.5;", true},
		{"d:1.0E+25;", true},
		{"d:INF;", true},
		{`s:5:"hello";`, true},
		{"a:0:{}", true},
		{`a:1:{i:0;s:1:"a";}`, true},
		{`O:8:"stdClass":0:{}`, true},
		{`C:3:"Foo":0:{}`, true},
		{`E:6:"Suit:A";`, true},
		{"r:1;", true},

		{"", false},
		{"hello world", false},
		{"http://example.com", false},
		{"a:b", false},
		{"b:2;", false},
		{"i:x;", false},
		{"s:5:hello;", false},
		{"a:x:{}", false},
		{"a:1:{;", false},
		{"O:stdClass", false},
		{"s:5:\"hello\"", false},
		{"r:a;", false},
		{"z:1:{}", false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, LooksEncoded(tc.input))
		})
	}
}

func TestLooksEncodedString(t *testing.T) {
	assert.True(t, LooksEncodedString(`s:5:"hello";`))
	assert.True(t, LooksEncodedString(` s:0:""; `))
	assert.False(t, LooksEncodedString(`a:0:{}`))
	assert.False(t, LooksEncodedString(`i:5;`))
	assert.False(t, LooksEncodedString(`s:5:"hello"`))
}

// The detector may accept strings the decoder rejects; that must never panic.
func TestLooksEncoded_FalsePositiveDecodesSafely(t *testing.T) {
	inputs := []string{
		`s:99:"x";`,
		`a:1:{garbage}`,
		`O:3:"Foo":1:{}`,
		`C:3:"Foo":5:{}`,
		`i:1-2;`,
		`d:E;`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			assert.True(t, LooksEncoded(in))
			_, err := Decode(in)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		input string
		want  Shape
	}{
		{"hello world", ShapePlain},
		{"", ShapePlain},
		{`s:5:"hello"`, ShapePlain},
		{`s:5:"hello";`, ShapeString},
		{` s:11:"a:1:{i:0;N;}"; `, ShapeString},
		{`a:1:{i:0;N;}`, ShapeValue},
		{`O:8:"stdClass":0:{}`, ShapeValue},
		{"i:5;", ShapeValue},
		{"N;", ShapeValue},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.input))
		})
	}
}
