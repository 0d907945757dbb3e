package chat

import (
	"html"
	"strings"
	"unicode"
)

// MaxTextLength bounds a single message, in runes.
const MaxTextLength = 4000

// NormalizeText trims the text, drops control characters other than newline
// and tab, and truncates to MaxTextLength runes.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n >= MaxTextLength {
			break
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

// EscapeForDisplay HTML-escapes s so it renders as the literal text that was
// typed. The result is lossless: html.UnescapeString returns s.
func EscapeForDisplay(s string) string {
	return html.EscapeString(s)
}
