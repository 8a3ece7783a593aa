// Package brandmatch decides whether two brand guesses from a vision model
// name the same advertiser.
//
// Model guesses drift between ticks ("Acme", "ACME Corp.", "Akme") even while
// the same ad is on screen. Comparison therefore runs in two stages:
//
//  1. Normalisation: case folding, punctuation removal and dropping of legal
//     suffixes and articles ("inc", "corp", "the", ...).
//  2. Similarity: Double Metaphone codes of the remaining tokens are compared
//     and, when they overlap, a Jaro-Winkler score above the phonetic
//     threshold is enough. Otherwise the stricter fuzzy threshold applies.
package brandmatch

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.84
	defaultFuzzyThreshold    = 0.95
)

// fillerTokens are dropped before comparison.
var fillerTokens = map[string]struct{}{
	"the": {}, "inc": {}, "co": {}, "corp": {}, "corporation": {},
	"company": {}, "ltd": {}, "llc": {}, "gmbh": {}, "ag": {}, "plc": {},
	"and": {}, "brand": {}, "brands": {},
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for two names
// whose phonetic codes overlap. Default: 0.84.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for two names
// without phonetic overlap. Default: 0.95.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher compares brand names. It is read-only after construction and safe
// for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Normalize returns the comparison tokens of a brand name.
func Normalize(name string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
			// "McDonald's" and "McDonalds" compare equal.
		default:
			b.WriteRune(' ')
		}
	}
	var tokens []string
	for _, t := range strings.Fields(b.String()) {
		if _, skip := fillerTokens[t]; skip {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// Score returns the similarity of a and b in [0, 1] and whether their
// phonetic codes overlap. Empty names score 0.
func (m *Matcher) Score(a, b string) (score float64, phonetic bool) {
	ta, tb := Normalize(a), Normalize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0, false
	}
	fa, fb := strings.Join(ta, " "), strings.Join(tb, " ")
	if fa == fb {
		return 1, true
	}

	phonetic = codesOverlap(codesForTokens(ta), codesForTokens(tb))

	score = matchr.JaroWinkler(fa, fb, false)
	ca, cb := strings.Join(ta, ""), strings.Join(tb, "")
	if s := matchr.JaroWinkler(ca, cb, false); s > score {
		score = s
	}
	return score, phonetic
}

// Same reports whether a and b name the same brand. Two empty names are not
// the same brand.
func (m *Matcher) Same(a, b string) bool {
	score, phonetic := m.Score(a, b)
	if phonetic {
		return score >= m.phoneticThreshold
	}
	return score >= m.fuzzyThreshold
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
