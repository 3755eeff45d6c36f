// Package phpserial decodes and encodes values in the PHP serialize() format.
//
// Decoded values are represented as a tree of *Node. The tree keeps enough of
// the original text (number literals, key literals, opaque payloads) that
// Encode(Decode(s)) reproduces s byte for byte. Length prefixes are always
// recomputed by the encoder, so a tree whose strings were edited encodes to a
// well-formed value.
package phpserial

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
	KindObject
	KindIncomplete
	KindReference
)

var kindNames = [...]string{
	KindNull:       "null",
	KindBool:       "bool",
	KindInt:        "int",
	KindFloat:      "float",
	KindString:     "string",
	KindSequence:   "sequence",
	KindMapping:    "mapping",
	KindObject:     "object",
	KindIncomplete: "incomplete",
	KindReference:  "reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IncompleteClass is the class name PHP assigns to objects whose class could
// not be loaded during unserialize.
const IncompleteClass = "__PHP_Incomplete_Class"

// Entry is one key/value pair of a mapping or one property of an object.
// Key is always a KindInt or KindString node.
type Entry struct {
	Key   *Node
	Value *Node
}

// Node is a single decoded value.
//
// Which fields are meaningful depends on Kind:
//
//	KindBool                 Bool
//	KindInt, KindFloat       Number (literal text, e.g. "-12" or "1.0E+25")
//	KindString               Str
//	KindSequence             Items
//	KindMapping              Entries
//	KindObject               Class, Entries
//	KindIncomplete           Raw, Class (when known)
//	KindReference            Raw
type Node struct {
	Kind Kind

	Bool   bool
	Number string
	Str    string

	Class   string
	Items   []*Node
	Entries []Entry

	Raw string
}

func Null() *Node {
	return &Node{Kind: KindNull}
}

func FromBool(v bool) *Node {
	return &Node{Kind: KindBool, Bool: v}
}

func FromInt(v int64) *Node {
	return &Node{Kind: KindInt, Number: strconv.FormatInt(v, 10)}
}

// FromFloat formats f the way PHP does with serialize_precision=-1.
func FromFloat(f float64) *Node {
	return &Node{Kind: KindFloat, Number: formatFloat(f)}
}

func FromString(v string) *Node {
	return &Node{Kind: KindString, Str: v}
}

func Sequence(items ...*Node) *Node {
	return &Node{Kind: KindSequence, Items: items}
}

func Mapping(entries ...Entry) *Node {
	return &Node{Kind: KindMapping, Entries: entries}
}

func Object(class string, props ...Entry) *Node {
	return &Node{Kind: KindObject, Class: class, Entries: props}
}

// StrEntry is a shorthand for an entry with a string key.
func StrEntry(key string, value *Node) Entry {
	return Entry{Key: FromString(key), Value: value}
}

// IntEntry is a shorthand for an entry with an integer key.
func IntEntry(key int64, value *Node) Entry {
	return Entry{Key: FromInt(key), Value: value}
}

// Int64 parses the integer literal of a KindInt node.
func (n *Node) Int64() (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(n.Number, "+"), 10, 64)
}

// Float64 parses the literal of a KindFloat or KindInt node.
func (n *Node) Float64() (float64, error) {
	switch n.Number {
	case "INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	case "NAN":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(n.Number, 64)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	dst := *n
	if n.Items != nil {
		dst.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			dst.Items[i] = item.Clone()
		}
	}
	if n.Entries != nil {
		dst.Entries = make([]Entry, len(n.Entries))
		for i, e := range n.Entries {
			dst.Entries[i] = Entry{Key: e.Key.Clone(), Value: e.Value.Clone()}
		}
	}
	return &dst
}

// Equal reports whether two trees are structurally identical, including entry
// order and literal text.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt, KindFloat:
		return a.Number == b.Number
	case KindString:
		return a.Str == b.Str
	case KindSequence:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case KindMapping, KindObject:
		if a.Class != b.Class || len(a.Entries) != len(b.Entries) {
			return false
		}
		for i := range a.Entries {
			if !Equal(a.Entries[i].Key, b.Entries[i].Key) || !Equal(a.Entries[i].Value, b.Entries[i].Value) {
				return false
			}
		}
		return true
	case KindIncomplete, KindReference:
		return a.Class == b.Class && a.Raw == b.Raw
	}
	return false
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}

	// PHP switches to exponent form when the decimal point falls outside
	// [-3, 15] and always keeps a fractional digit in the mantissa.
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expText, _ := strings.Cut(sci, "e")
	exp, _ := strconv.Atoi(expText)
	if decpt := exp + 1; decpt >= -3 && decpt <= 15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	sign := "+"
	if exp < 0 {
		sign = "-"
		exp = -exp
	}
	return mant + "E" + sign + strconv.Itoa(exp)
}
