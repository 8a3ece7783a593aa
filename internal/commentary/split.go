package commentary

import (
	"strings"
	"unicode"
)

// SplitSentences splits text into trimmed sentences. A sentence ends at a run
// of '.', '!', '?' or '…', which stays attached to it. A trailing fragment
// without terminal punctuation is kept as its own sentence. Empty fragments
// are dropped.
//
// A '.' between two digits ("3.5") does not end a sentence.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && !onlyPunct(s) {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)
		if !isTerminal(r) {
			continue
		}
		if r == '.' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		for i+1 < len(runes) && (isTerminal(runes[i+1]) || isCloser(runes[i+1])) {
			i++
			cur.WriteRune(runes[i])
		}
		flush()
	}
	flush()
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// isCloser reports closing quotes and brackets that belong to the sentence
// they follow.
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

func onlyPunct(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
