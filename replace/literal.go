package replace

import "strings"

// replaceLiteral replaces every occurrence of find in s. With fold set, ASCII
// letters match regardless of case; other bytes must match exactly.
func replaceLiteral(s, find, to string, fold bool) string {
	if find == "" {
		return s
	}
	if !fold {
		return strings.ReplaceAll(s, find, to)
	}

	// ASCII folding keeps byte offsets identical between s and its folded form.
	ls, lf := lowerASCII(s), lowerASCII(find)
	var b strings.Builder
	last := 0
	for {
		i := strings.Index(ls[last:], lf)
		if i < 0 {
			break
		}
		if b.Len() == 0 {
			b.Grow(len(s))
		}
		b.WriteString(s[last : last+i])
		b.WriteString(to)
		last += i + len(lf)
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

func lowerASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if c := b[j]; c >= 'A' && c <= 'Z' {
					b[j] = c + ('a' - 'A')
				}
			}
			return string(b)
		}
	}
	return s
}
