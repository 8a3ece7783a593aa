package session

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// UnknownBrand is recorded when no brand was ever guessed.
	UnknownBrand = "Unknown Brand"

	// FallbackOneLiner closes a segment that has no commentary to quote.
	FallbackOneLiner = "Another ad bites the dust."
)

// Record is a finalized segment. Records are immutable once appended to a
// [Ledger]; callers receive copies.
type Record struct {
	ID         int       `json:"id"`
	Brand      string    `json:"brandGuess"`
	OneLiner   string    `json:"oneLiner"`
	Theory     string    `json:"theory,omitempty"`
	Tropes     []string  `json:"tropes,omitempty"`
	Commentary []string  `json:"commentaryLog"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
}

// Closing carries everything [Finalize] needs besides the segment.
type Closing struct {
	ID int

	// OneLiner is the preferred summary. Empty means "quote the last
	// commentary line, or use [FallbackOneLiner]".
	OneLiner string

	// BrandHint is used when the segment never settled on a brand.
	BrandHint string

	EndedAt time.Time
}

// Finalize turns seg into a [Record]. It is a pure function and always
// returns a valid record: Brand and OneLiner are non-empty and EndedAt is
// never before StartedAt.
func Finalize(seg Segment, c Closing) Record {
	brand := strings.TrimSpace(seg.Brand)
	if brand == "" {
		brand = strings.TrimSpace(c.BrandHint)
	}
	if brand == "" {
		brand = UnknownBrand
	}

	oneLiner := strings.TrimSpace(c.OneLiner)
	if oneLiner == "" {
		oneLiner = strings.TrimSpace(seg.LastCommentary())
	}
	if oneLiner == "" {
		oneLiner = FallbackOneLiner
	}

	ended := c.EndedAt
	if ended.Before(seg.StartedAt) {
		ended = seg.StartedAt
	}

	commentary := slices.Clone(seg.Commentary)
	if commentary == nil {
		commentary = []string{}
	}

	return Record{
		ID:         c.ID,
		Brand:      brand,
		OneLiner:   oneLiner,
		Theory:     seg.Theory,
		Tropes:     slices.Clone(seg.Tropes),
		Commentary: commentary,
		StartedAt:  seg.StartedAt,
		EndedAt:    ended,
	}
}

// Ledger is the append-only, chronologically ordered history of finalized
// segments for one process run.
//
// All methods are safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	nextID  int
}

// NewLedger returns an empty [Ledger].
func NewLedger() *Ledger {
	return &Ledger{nextID: 1}
}

// Append finalizes seg with the next record ID and stores the result.
func (l *Ledger) Append(seg Segment, c Closing) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.nextID == 0 {
		l.nextID = 1
	}
	c.ID = l.nextID
	l.nextID++

	rec := Finalize(seg, c)
	l.records = append(l.records, rec)
	return cloneRecord(rec)
}

// History returns a copy of every record in insertion order.
func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.records))
	for i, r := range l.records {
		out[i] = cloneRecord(r)
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func cloneRecord(r Record) Record {
	r.Tropes = slices.Clone(r.Tropes)
	r.Commentary = slices.Clone(r.Commentary)
	return r
}
