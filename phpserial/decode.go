package phpserial

import (
	"strconv"
)

// DefaultMaxDepth matches PHP's default unserialize_max_depth.
const DefaultMaxDepth = 4096

// DecodeOptions tunes the decoder.
type DecodeOptions struct {
	// MaxDepth limits container nesting; zero means DefaultMaxDepth.
	MaxDepth int

	// Opaque reports whether objects of the given class must be kept as
	// KindIncomplete nodes instead of being decoded into KindObject.
	Opaque func(class string) bool
}

// Decode parses a complete serialized value using default options.
func Decode(s string) (*Node, error) {
	return DecodeWith(s, DecodeOptions{})
}

// DecodeWith parses a complete serialized value. Any malformed input, including
// trailing bytes after the top-level value, results in a *DecodeError and no tree.
func DecodeWith(s string, opts DecodeOptions) (*Node, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	d := &decoder{s: s, opts: opts}
	n, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.s) {
		return nil, d.fail("trailing data after value")
	}
	return n, nil
}

type decoder struct {
	s     string
	pos   int
	depth int
	opts  DecodeOptions
}

func (d *decoder) fail(reason string) error {
	return &DecodeError{Offset: d.pos, Reason: reason}
}

func (d *decoder) remaining() int {
	return len(d.s) - d.pos
}

func (d *decoder) expect(c byte) error {
	if d.pos >= len(d.s) {
		return d.fail("unexpected end of input, want " + strconv.QuoteRune(rune(c)))
	}
	if d.s[d.pos] != c {
		return d.fail("want " + strconv.QuoteRune(rune(c)) + ", got " + strconv.QuoteRune(rune(d.s[d.pos])))
	}
	d.pos++
	return nil
}

// uint reads an unsigned decimal length or count.
func (d *decoder) uint() (int, error) {
	start := d.pos
	for d.pos < len(d.s) && isDigit(d.s[d.pos]) {
		d.pos++
	}
	if d.pos == start {
		return 0, d.fail("missing length")
	}
	// PHP never writes leading zeros and the encoder could not reproduce them
	if d.pos-start > 1 && d.s[start] == '0' {
		d.pos = start
		return 0, d.fail("zero-padded length")
	}
	n, err := strconv.Atoi(d.s[start:d.pos])
	if err != nil || n > len(d.s) {
		d.pos = start
		return 0, d.fail("length out of range")
	}
	return n, nil
}

// literal reads up to the next ';' and consumes the delimiter.
func (d *decoder) literal() (string, error) {
	start := d.pos
	for d.pos < len(d.s) && d.s[d.pos] != ';' {
		d.pos++
	}
	if d.pos >= len(d.s) {
		d.pos = start
		return "", d.fail("unterminated scalar")
	}
	lit := d.s[start:d.pos]
	d.pos++
	return lit, nil
}

// bytes reads exactly n raw bytes.
func (d *decoder) bytes(n int) (string, error) {
	if n > d.remaining() {
		return "", d.fail("declared length " + strconv.Itoa(n) + " exceeds input")
	}
	b := d.s[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// header consumes "T:" for the tag at the cursor.
func (d *decoder) header() (byte, error) {
	if d.remaining() < 2 {
		return 0, d.fail("unexpected end of input")
	}
	tag := d.s[d.pos]
	if tag == 'N' {
		return tag, nil
	}
	if d.s[d.pos+1] != ':' {
		return 0, d.fail("missing ':' after type tag")
	}
	d.pos += 2
	return tag, nil
}

func (d *decoder) value() (*Node, error) {
	start := d.pos
	tag, err := d.header()
	if err != nil {
		return nil, err
	}

	switch tag {
	case 'N':
		d.pos++
		if err := d.expect(';'); err != nil {
			return nil, err
		}
		return Null(), nil

	case 'b':
		lit, err := d.literal()
		if err != nil {
			return nil, err
		}
		if lit != "0" && lit != "1" {
			return nil, d.fail("invalid boolean " + strconv.Quote(lit))
		}
		return FromBool(lit == "1"), nil

	case 'i':
		lit, err := d.literal()
		if err != nil {
			return nil, err
		}
		if !validInt(lit) {
			return nil, d.fail("invalid integer " + strconv.Quote(lit))
		}
		return &Node{Kind: KindInt, Number: lit}, nil

	case 'd':
		lit, err := d.literal()
		if err != nil {
			return nil, err
		}
		if !validFloat(lit) {
			return nil, d.fail("invalid float " + strconv.Quote(lit))
		}
		return &Node{Kind: KindFloat, Number: lit}, nil

	case 's':
		str, err := d.quoted()
		if err != nil {
			return nil, err
		}
		if err := d.expect(';'); err != nil {
			return nil, err
		}
		return FromString(str), nil

	case 'a':
		return d.array()

	case 'O':
		return d.object(start)

	case 'C':
		return d.custom(start)

	case 'E':
		body, err := d.quoted()
		if err != nil {
			return nil, err
		}
		if err := d.expect(';'); err != nil {
			return nil, err
		}
		class := body
		for i := 0; i < len(body); i++ {
			if body[i] == ':' {
				class = body[:i]
				break
			}
		}
		return &Node{Kind: KindIncomplete, Class: class, Raw: d.s[start:d.pos]}, nil

	case 'r', 'R':
		lit, err := d.literal()
		if err != nil {
			return nil, err
		}
		if !isDigits(lit) {
			return nil, d.fail("invalid reference " + strconv.Quote(lit))
		}
		return &Node{Kind: KindReference, Raw: d.s[start:d.pos]}, nil
	}

	d.pos = start
	return nil, d.fail("unknown type tag " + strconv.QuoteRune(rune(tag)))
}

// quoted reads `<len>:"<bytes>"`.
func (d *decoder) quoted() (string, error) {
	n, err := d.uint()
	if err != nil {
		return "", err
	}
	if err := d.expect(':'); err != nil {
		return "", err
	}
	if err := d.expect('"'); err != nil {
		return "", err
	}
	str, err := d.bytes(n)
	if err != nil {
		return "", err
	}
	if err := d.expect('"'); err != nil {
		return "", err
	}
	return str, nil
}

func (d *decoder) key() (*Node, error) {
	if d.pos < len(d.s) && d.s[d.pos] != 'i' && d.s[d.pos] != 's' {
		return nil, d.fail("key must be an integer or string")
	}
	return d.value()
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > d.opts.MaxDepth {
		return d.fail("maximum nesting depth exceeded")
	}
	return nil
}

// entries reads `<count>:{(key value)*}`.
func (d *decoder) entries() ([]Entry, error) {
	count, err := d.uint()
	if err != nil {
		return nil, err
	}
	if err := d.expect(':'); err != nil {
		return nil, err
	}
	if err := d.expect('{'); err != nil {
		return nil, err
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	// Every entry needs at least 4 bytes for its key alone.
	entries := make([]Entry, 0, min(count, d.remaining()/4))
	seen := make(map[string]struct{}, cap(entries))
	for i := 0; i < count; i++ {
		keyAt := d.pos
		k, err := d.key()
		if err != nil {
			return nil, err
		}
		id := keyIdentity(k)
		if _, dup := seen[id]; dup {
			d.pos = keyAt
			return nil, d.fail("duplicate key")
		}
		seen[id] = struct{}{}

		v, err := d.value()
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: k, Value: v})
	}
	if err := d.expect('}'); err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *decoder) array() (*Node, error) {
	entries, err := d.entries()
	if err != nil {
		return nil, err
	}
	if isSequence(entries) {
		items := make([]*Node, len(entries))
		for i, e := range entries {
			items[i] = e.Value
		}
		return Sequence(items...), nil
	}
	return Mapping(entries...), nil
}

func (d *decoder) className() (string, error) {
	classAt := d.pos
	class, err := d.quoted()
	if err != nil {
		return "", err
	}
	if !validClassName(class) {
		d.pos = classAt
		return "", d.fail("invalid class name " + strconv.Quote(class))
	}
	if err := d.expect(':'); err != nil {
		return "", err
	}
	return class, nil
}

func (d *decoder) object(start int) (*Node, error) {
	class, err := d.className()
	if err != nil {
		return nil, err
	}
	props, err := d.entries()
	if err != nil {
		return nil, err
	}
	if class == IncompleteClass || (d.opts.Opaque != nil && d.opts.Opaque(class)) {
		return &Node{Kind: KindIncomplete, Class: class, Raw: d.s[start:d.pos]}, nil
	}
	return Object(class, props...), nil
}

// custom reads a C: value whose payload format belongs to the class itself.
func (d *decoder) custom(start int) (*Node, error) {
	class, err := d.className()
	if err != nil {
		return nil, err
	}
	n, err := d.uint()
	if err != nil {
		return nil, err
	}
	if err := d.expect(':'); err != nil {
		return nil, err
	}
	if err := d.expect('{'); err != nil {
		return nil, err
	}
	if _, err := d.bytes(n); err != nil {
		return nil, err
	}
	if err := d.expect('}'); err != nil {
		return nil, err
	}
	return &Node{Kind: KindIncomplete, Class: class, Raw: d.s[start:d.pos]}, nil
}

// keyIdentity maps a key to the slot PHP would store it in: numeric string
// keys share a slot with the equivalent integer key.
func keyIdentity(k *Node) string {
	if k.Kind == KindInt {
		if v, err := k.Int64(); err == nil {
			return "i" + strconv.FormatInt(v, 10)
		}
		return "i" + k.Number
	}
	if v, err := strconv.ParseInt(k.Str, 10, 64); err == nil && strconv.FormatInt(v, 10) == k.Str {
		return "i" + k.Str
	}
	return "s" + k.Str
}

func isSequence(entries []Entry) bool {
	for i, e := range entries {
		if e.Key.Kind != KindInt || e.Key.Number != strconv.Itoa(i) {
			return false
		}
	}
	return true
}

func validInt(s string) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	return isDigits(s)
}

func validFloat(s string) bool {
	switch s {
	case "NAN", "INF", "-INF":
		return true
	}
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	i, digits := 0, 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(s) && (s[i] == 'E' || s[i] == 'e') {
		i++
		if i < len(s) && (s[i] == '-' || s[i] == '+') {
			i++
		}
		expStart := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i == expStart {
			return false
		}
	}
	return i == len(s)
}

func validClassName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', isDigit(c), c == '_', c == '\\', c >= 0x80:
		default:
			return false
		}
	}
	return true
}
