package phpserial

import (
	"fmt"
	"strconv"
	"strings"
)

// Encode serializes a tree. Length prefixes and element counts are computed
// from the current content; literals and opaque payloads are written as stored.
func Encode(n *Node) (string, error) {
	var b strings.Builder
	if err := encodeTo(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encodeTo(b *strings.Builder, n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrEncodeInconsistency)
	}

	switch n.Kind {
	case KindNull:
		b.WriteString("N;")
	case KindBool:
		if n.Bool {
			b.WriteString("b:1;")
		} else {
			b.WriteString("b:0;")
		}
	case KindInt:
		if !validInt(n.Number) {
			return fmt.Errorf("%w: int literal %q", ErrEncodeInconsistency, n.Number)
		}
		b.WriteString("i:")
		b.WriteString(n.Number)
		b.WriteByte(';')
	case KindFloat:
		if !validFloat(n.Number) {
			return fmt.Errorf("%w: float literal %q", ErrEncodeInconsistency, n.Number)
		}
		b.WriteString("d:")
		b.WriteString(n.Number)
		b.WriteByte(';')
	case KindString:
		writeQuoted(b, 's', n.Str)
		b.WriteByte(';')
	case KindSequence:
		b.WriteString("a:")
		b.WriteString(strconv.Itoa(len(n.Items)))
		b.WriteString(":{")
		for i, item := range n.Items {
			b.WriteString("i:")
			b.WriteString(strconv.Itoa(i))
			b.WriteByte(';')
			if err := encodeTo(b, item); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case KindMapping:
		b.WriteString("a:")
		if err := encodeEntries(b, n.Entries); err != nil {
			return err
		}
	case KindObject:
		if !validClassName(n.Class) {
			return fmt.Errorf("%w: class name %q", ErrEncodeInconsistency, n.Class)
		}
		writeQuoted(b, 'O', n.Class)
		b.WriteByte(':')
		if err := encodeEntries(b, n.Entries); err != nil {
			return err
		}
	case KindIncomplete, KindReference:
		if n.Raw == "" {
			return fmt.Errorf("%w: %s node without payload", ErrEncodeInconsistency, n.Kind)
		}
		b.WriteString(n.Raw)
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrEncodeInconsistency, n.Kind)
	}
	return nil
}

func encodeEntries(b *strings.Builder, entries []Entry) error {
	b.WriteString(strconv.Itoa(len(entries)))
	b.WriteString(":{")
	for _, e := range entries {
		if e.Key == nil || (e.Key.Kind != KindInt && e.Key.Kind != KindString) {
			return fmt.Errorf("%w: entry key must be int or string", ErrEncodeInconsistency)
		}
		if err := encodeTo(b, e.Key); err != nil {
			return err
		}
		if err := encodeTo(b, e.Value); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// writeQuoted writes `T:<len>:"<s>"`.
func writeQuoted(b *strings.Builder, tag byte, s string) {
	b.WriteByte(tag)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteString(`:"`)
	b.WriteString(s)
	b.WriteByte('"')
}
