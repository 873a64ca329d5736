// Package sanitize cleans text produced by external processes (tool session
// containers, Jenkins error pages) before it reaches the assistant backend
// or a user.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// Text removes terminal escape sequences and control characters other than
// newline and tab, and normalises CRLF line endings.
func Text(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Excerpt sanitizes s, trims surrounding space and keeps at most limit
// runes, marking a cut with an ellipsis. A non-positive limit disables the
// cut.
func Excerpt(s string, limit int) string {
	s = strings.TrimSpace(Text(s))
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
