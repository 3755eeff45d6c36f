package phpserial

import "strings"

// LooksEncoded reports whether s has the outer shape of a serialized value.
// It inspects the type tag, the digits after it and the final delimiter without
// decoding the body, so a true result still has to be confirmed by Decode.
func LooksEncoded(s string) bool {
	s = strings.TrimSpace(s)
	if s == "N;" {
		return true
	}
	if len(s) < 4 || s[1] != ':' {
		return false
	}
	last := s[len(s)-1]
	if last != ';' && last != '}' {
		return false
	}

	switch tag := s[0]; tag {
	case 's':
		if s[len(s)-2] != '"' {
			return false
		}
		return hasCountPrefix(s)
	case 'a', 'O', 'C':
		return last == '}' && hasCountPrefix(s)
	case 'E':
		return last == ';' && hasCountPrefix(s)
	case 'b':
		return s == "b:0;" || s == "b:1;"
	case 'i', 'd':
		return last == ';' && isNumberLiteral(s[2:len(s)-1], tag == 'd')
	case 'r', 'R':
		return last == ';' && isDigits(s[2:len(s)-1])
	}
	return false
}

// Shape is the outer form of a raw value
type Shape uint8

const (
	// ShapePlain is not a serialized value
	ShapePlain Shape = iota
	// ShapeString is a serialized string scalar, often a value serialized twice
	ShapeString
	// ShapeValue is any other serialized candidate, usually a container
	ShapeValue
)

// Classify sorts s into plain text, an encoded string scalar or another
// encoded candidate without decoding it.
func Classify(s string) Shape {
	if !LooksEncoded(s) {
		return ShapePlain
	}
	if LooksEncodedString(s) {
		return ShapeString
	}
	return ShapeValue
}

// LooksEncodedString reports whether s looks like a serialized string scalar
// (s:N:"...";) rather than a container.
func LooksEncodedString(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 4 || s[0] != 's' || s[1] != ':' {
		return false
	}
	return s[len(s)-1] == ';' && s[len(s)-2] == '"'
}

// hasCountPrefix checks for "T:<digits>:" at the start of s.
func hasCountPrefix(s string) bool {
	i := 2
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return i > 2 && i < len(s) && s[i] == ':'
}

func isNumberLiteral(s string, float bool) bool {
	if s == "" {
		return false
	}
	if float && (s == "NAN" || s == "INF" || s == "-INF") {
		return true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isDigit(c), c == '-', c == '+':
		case float && (c == '.' || c == 'E' || c == 'e'):
		default:
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
