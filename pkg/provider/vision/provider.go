// Package vision defines the Analyzer interface for vision-capable language
// model backends.
//
// An Analyzer receives one still frame plus a short rolling summary of what it
// has said before and returns a structured [Observation] about the frame.
// Backends (OpenAI, any-llm-go, ...) live in sub-packages; they all share the
// reply parser in this package so that a reply that does not match the
// expected JSON shape degrades to a commentary-only result instead of failing
// the call.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/adroast/pkg/frame"
)

// Confidence is the model's self-reported certainty about its brand theory.
type Confidence string

const (
	ConfidenceGuessing   Confidence = "guessing"
	ConfidenceSuspicious Confidence = "suspicious"
	ConfidenceCertain    Confidence = "certain"
)

// IsValid reports whether c is a recognised confidence level.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceGuessing, ConfidenceSuspicious, ConfidenceCertain:
		return true
	}
	return false
}

// Observation is the structured content of one analyzer reply. It is consumed
// immediately by the loop and never retained.
type Observation struct {
	// Commentary is the viewer-facing text; may contain several sentences.
	Commentary string

	// Theory is the model's current running theory of what is being advertised.
	Theory string

	// BrandGuess is the suspected brand. Empty means no guess.
	BrandGuess string

	// Confidence qualifies BrandGuess.
	Confidence Confidence

	// Tropes lists advertising tropes spotted in this frame.
	Tropes []string

	// IsBoundary is true when the model believes a new ad has started.
	IsBoundary bool

	// BoundarySummary is a one-line verdict on the ad that just ended. Only
	// meaningful together with IsBoundary.
	BoundarySummary string
}

// ResultKind tags how an analyzer reply was interpreted.
type ResultKind int

const (
	// KindParsed means the reply matched the expected schema.
	KindParsed ResultKind = iota

	// KindDegraded means the reply could not be parsed; the Observation carries
	// only best-effort Commentary taken from the raw text.
	KindDegraded
)

// String returns the human-readable name of the kind.
func (k ResultKind) String() string {
	switch k {
	case KindParsed:
		return "parsed"
	case KindDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Result is a successful analyzer call. Transport-level failures are reported
// through the error return of [Analyzer.Analyze] instead.
type Result struct {
	Kind        ResultKind
	Observation Observation

	// Raw is the unprocessed model text, kept for logging.
	Raw string
}

// Request carries everything needed for one analysis.
type Request struct {
	// Frame is the snapshot to analyze. Must not be nil.
	Frame *frame.Frame

	// Context is the rolling summary of earlier observations. May be empty.
	Context string

	// Instruction overrides the default system instruction when non-empty.
	Instruction string
}

// Analyzer is the abstraction over any vision backend.
type Analyzer interface {
	// Analyze sends req to the model and waits for the reply. A reply that
	// fails schema parsing is returned as a [KindDegraded] result with a nil
	// error. A throttled call returns a *[RateLimitError].
	Analyze(ctx context.Context, req Request) (Result, error)
}

// ErrMalformed is wrapped by [Decode] failures. [ParseReply] never returns it;
// it degrades instead.
var ErrMalformed = errors.New("vision: malformed reply")

// RateLimitError reports that the backend (or the proxy in front of it)
// refused the call because the caller's budget is spent.
type RateLimitError struct {
	// RetryAfter is how long the backend asked the caller to wait. Zero means
	// the backend gave no hint.
	RetryAfter time.Duration

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements error.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("vision: rate limited, retry after %s", e.RetryAfter.Round(time.Second))
	}
	return "vision: rate limited"
}

// Unwrap returns the underlying error.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// AsRateLimit reports whether err is (or wraps) a *RateLimitError and returns it.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
