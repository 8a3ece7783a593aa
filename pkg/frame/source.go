// Package frame defines the Source interface for live visual feeds.
//
// A Source hands back a still snapshot of whatever the feed is currently
// showing. It is polled by the analysis loop on its own cadence; sources never
// push. Returning [ErrUnavailable] from [Source.Capture] is the normal way to
// say "no frame right now" (device warming up, nothing published yet) and is
// not treated as a failure by callers.
//
// Implementations must be safe for concurrent use.
package frame

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by [Source.Capture] when no frame can be produced
// at the moment. Callers should skip the current iteration without reporting
// an error.
var ErrUnavailable = errors.New("frame: no frame available")

// Frame is a single encoded still image captured from the feed.
//
// Data must not be modified after the frame has been handed out; the same
// backing slice may be shared by several readers.
type Frame struct {
	// Data holds the encoded image bytes (JPEG or PNG).
	Data []byte

	// MIMEType is the media type of Data, e.g. "image/jpeg".
	MIMEType string

	// Width and Height are the pixel dimensions when known, zero otherwise.
	Width  int
	Height int

	// CapturedAt is when the source captured the frame.
	CapturedAt time.Time

	// Seq is a monotonically increasing sequence number assigned by the source.
	Seq uint64
}

// Source is the capture boundary of the analysis loop.
type Source interface {
	// Capture returns the most recent frame. It returns [ErrUnavailable] when
	// the source has nothing to offer yet; any other error indicates a broken
	// source.
	Capture(ctx context.Context) (*Frame, error)

	// Active reports whether the source is attached to a live feed. The loop
	// refuses to start against an inactive source.
	Active() bool
}
