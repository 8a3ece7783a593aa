package session

import (
	"strings"
)

// DefaultContextRunes bounds the rolling context when no limit is configured.
const DefaultContextRunes = 480

// RollingContext builds the compact context string sent with the next frame
// from the segment's theory and its most recent commentary. The result never
// exceeds maxRunes runes; a non-positive maxRunes selects
// [DefaultContextRunes]. Both inputs empty yields "".
func RollingContext(theory, lastCommentary string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultContextRunes
	}
	theory = collapse(theory)
	lastCommentary = collapse(lastCommentary)

	var parts []string
	if theory != "" {
		parts = append(parts, "Theory: "+theory)
	}
	if lastCommentary != "" {
		parts = append(parts, "Last comment: "+lastCommentary)
	}
	return truncateRunes(strings.Join(parts, "\n"), maxRunes)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
