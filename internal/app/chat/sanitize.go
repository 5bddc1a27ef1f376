package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sanitize drops invalid UTF-8 and control characters from s and trims the
// surrounding whitespace. Markup is left alone; clients render text, not HTML.
func Sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// withinLimit reports whether s is non-empty and at most max characters.
func withinLimit(s string, max int) bool {
	n := utf8.RuneCountInString(s)
	return n > 0 && n <= max
}
