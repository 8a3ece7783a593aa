// Package session holds the bookkeeping of one analysis run: the segment
// currently being watched, the ledger of finalized segments, the session-time
// governor and the rolling context sent along with every frame.
//
// A [Segmenter] consumes vision observations in completion order. It keeps
// the sticky theory and brand of the running [Segment] and asks its [Policy]
// whether an observation closes the segment. Closed segments are turned into
// immutable [Record] values by [Finalize] and appended to a [Ledger].
//
// Nothing in this package starts goroutines or timers; the analysis loop
// drives it.
package session
