package session

import (
	"sync"
	"time"

	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// Segmenter owns the running [Segment] and closes it into a [Ledger] when its
// [Policy] says the ad has changed.
//
// All methods are safe for concurrent use.
type Segmenter struct {
	policy Policy
	ledger *Ledger

	mu  sync.Mutex
	cur Segment
}

// NewSegmenter returns a Segmenter with an empty segment opened at now.
// A nil policy is treated as [ModelSignal].
func NewSegmenter(policy Policy, ledger *Ledger, now time.Time) *Segmenter {
	if policy == nil {
		policy = ModelSignal{}
	}
	return &Segmenter{
		policy: policy,
		ledger: ledger,
		cur:    NewSegment(now),
	}
}

// Observe folds obs into the running segment. When the policy reports a
// boundary, the segment is finalized into the ledger and a fresh segment is
// opened at the record's end time. The returned record is the one appended.
//
// The model's brand guess is stored as given. On a boundary the closing record
// keeps the segment's sticky brand; the observation's own guess is only a
// fallback for a segment that never had one.
func (s *Segmenter) Observe(obs vision.Observation, now time.Time) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.policy.Decide(&s.cur, obs)
	if !d.Boundary {
		s.cur.Apply(obs, true)
		return Record{}, false
	}

	if !d.Carry {
		s.cur.Apply(obs, false)
	}
	rec := s.ledger.Append(s.cur, Closing{
		OneLiner:  d.OneLiner,
		BrandHint: obs.BrandGuess,
		EndedAt:   now,
	})
	s.cur = NewSegment(rec.EndedAt)
	if d.Carry {
		s.cur.Apply(obs, true)
	}
	return rec, true
}

// Flush finalizes the running segment if it has commentary or a theory and
// opens a fresh one at now. Calling Flush again without new observations
// appends nothing.
func (s *Segmenter) Flush(now time.Time) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cur.HasContent() {
		s.cur = NewSegment(now)
		return Record{}, false
	}
	rec := s.ledger.Append(s.cur, Closing{EndedAt: now})
	s.cur = NewSegment(rec.EndedAt)
	return rec, true
}

// Reset discards the running segment without recording it.
func (s *Segmenter) Reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = NewSegment(now)
}

// Current returns a copy of the running segment.
func (s *Segmenter) Current() Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.clone()
}
