package frame

import (
	"context"
	"sync"
	"sync/atomic"
)

// MailboxStats is a point-in-time view of [Mailbox] counters.
type MailboxStats struct {
	// Published is the number of frames handed to Publish.
	Published uint64

	// Captured is the number of frames returned by Capture.
	Captured uint64

	// Overwritten counts frames replaced before anyone captured them.
	Overwritten uint64
}

// Mailbox is a single-slot [Source] fed by an external publisher (a capture
// device goroutine, a websocket upload, ...). Publish never blocks: a new frame
// overwrites the slot, so Capture always returns the freshest snapshot and
// stale frames are dropped rather than queued.
//
// A captured frame stays in the slot; repeated Capture calls return the same
// frame until a newer one is published.
type Mailbox struct {
	mu      sync.Mutex
	current *Frame
	fresh   bool
	closed  bool
	seq     uint64

	published   atomic.Uint64
	captured    atomic.Uint64
	overwritten atomic.Uint64
}

// NewMailbox returns an empty, active [Mailbox].
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Publish stores f as the current frame and assigns its sequence number.
// f must not be modified afterwards. Publishing to a closed mailbox is a no-op.
func (m *Mailbox) Publish(f *Frame) {
	if f == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.fresh {
		m.overwritten.Add(1)
	}
	m.seq++
	f.Seq = m.seq
	m.current = f
	m.fresh = true
	m.published.Add(1)
}

// Capture implements [Source].
func (m *Mailbox) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.current == nil {
		return nil, ErrUnavailable
	}
	m.fresh = false
	m.captured.Add(1)
	return m.current, nil
}

// Active implements [Source]. A mailbox is active until closed.
func (m *Mailbox) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Close detaches the mailbox from its feed. Subsequent captures return
// [ErrUnavailable]. Safe to call multiple times.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.current = nil
	m.fresh = false
	return nil
}

// Stats returns the mailbox counters.
func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Published:   m.published.Load(),
		Captured:    m.captured.Load(),
		Overwritten: m.overwritten.Load(),
	}
}
