package session

import (
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// Segment is the running, mutable state of the ad currently on screen.
// The zero value is an empty segment with no start time.
type Segment struct {
	// StartedAt is when the segment was opened.
	StartedAt time.Time `json:"startedAt"`

	// Brand is the sticky brand guess. Once non-empty it is only replaced by
	// another non-empty guess.
	Brand string `json:"brandGuess,omitempty"`

	// Theory is the sticky theory about what is being advertised.
	Theory string `json:"theory,omitempty"`

	// Tropes is the ordered set of tropes seen so far. Comparison is
	// case-insensitive; the first spelling wins.
	Tropes []string `json:"tropesSeen,omitempty"`

	// Commentary is every commentary line in arrival order.
	Commentary []string `json:"commentaryLog"`
}

// NewSegment returns an empty segment opened at startedAt.
func NewSegment(startedAt time.Time) Segment {
	return Segment{StartedAt: startedAt}
}

// IsEmpty reports whether the segment has accrued nothing at all.
func (s *Segment) IsEmpty() bool {
	return s.Brand == "" && s.Theory == "" && len(s.Tropes) == 0 && len(s.Commentary) == 0
}

// HasContent reports whether the segment is worth finalizing on stop: it has
// commentary or a theory.
func (s *Segment) HasContent() bool {
	return len(s.Commentary) > 0 || s.Theory != ""
}

// LastCommentary returns the most recent commentary line, or "".
func (s *Segment) LastCommentary() string {
	if len(s.Commentary) == 0 {
		return ""
	}
	return s.Commentary[len(s.Commentary)-1]
}

// Apply folds obs into the segment. When withBrand is false the brand guess
// of obs is ignored.
func (s *Segment) Apply(obs vision.Observation, withBrand bool) {
	if c := strings.TrimSpace(obs.Commentary); c != "" {
		s.Commentary = append(s.Commentary, c)
	}
	if t := strings.TrimSpace(obs.Theory); t != "" {
		s.Theory = t
	}
	if withBrand {
		if b := strings.TrimSpace(obs.BrandGuess); b != "" {
			s.Brand = b
		}
	}
	for _, trope := range obs.Tropes {
		s.addTrope(trope)
	}
}

func (s *Segment) addTrope(trope string) {
	trope = strings.TrimSpace(trope)
	if trope == "" {
		return
	}
	if slices.ContainsFunc(s.Tropes, func(t string) bool { return strings.EqualFold(t, trope) }) {
		return
	}
	s.Tropes = append(s.Tropes, trope)
}

// clone returns a deep copy.
func (s Segment) clone() Segment {
	s.Tropes = slices.Clone(s.Tropes)
	s.Commentary = slices.Clone(s.Commentary)
	return s
}
