// Package mock provides a test double for the frame.Source interface.
//
// Frames are returned in order from Frames; once exhausted the last frame is
// repeated. When Frames is empty Capture returns frame.ErrUnavailable.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adroast/pkg/frame"
)

// Source is a mock implementation of frame.Source.
type Source struct {
	mu sync.Mutex

	// Frames is the sequence handed out by Capture.
	Frames []*frame.Frame

	// CaptureErr, if non-nil, is returned by every Capture call.
	CaptureErr error

	// Inactive makes Active report false.
	Inactive bool

	// CaptureCalls is the number of Capture invocations.
	CaptureCalls int

	next int
}

// Capture records the call and returns the next configured frame.
func (s *Source) Capture(_ context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CaptureCalls++
	if s.CaptureErr != nil {
		return nil, s.CaptureErr
	}
	if len(s.Frames) == 0 {
		return nil, frame.ErrUnavailable
	}
	f := s.Frames[s.next]
	if s.next < len(s.Frames)-1 {
		s.next++
	}
	return f, nil
}

// Active reports !Inactive.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Inactive
}

// Calls returns the number of Capture invocations so far.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CaptureCalls
}

var _ frame.Source = (*Source)(nil)
