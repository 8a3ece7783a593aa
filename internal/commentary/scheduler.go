// Package commentary turns bursty model commentary into a steady, readable
// stream of on-screen bubbles.
//
// Producers hand whole commentary texts to [Scheduler.Enqueue], which splits
// them into sentences and appends them to a FIFO queue. A release timer takes
// at most one sentence per interval and shows it as a [Bubble]. A separate
// sweep timer removes bubbles older than the expiry horizon, and the visible
// set is capped independently of expiry.
package commentary

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/adroast/internal/observe"
)

// Presentation defaults.
const (
	DefaultReleaseInterval = 3 * time.Second
	DefaultExpiry          = 16 * time.Second
	DefaultSweepInterval   = time.Second
	DefaultMaxVisible      = 5
)

// EventType identifies a [Scheduler] event.
type EventType string

const (
	EventReleased EventType = "bubble.released"
	EventExpired  EventType = "bubble.expired"
	EventEvicted  EventType = "bubble.evicted"
	EventCleared  EventType = "bubbles.cleared"
)

// Event describes a change to the visible bubbles. Bubble is zero for
// [EventCleared].
type Event struct {
	Type   EventType `json:"type"`
	Bubble Bubble    `json:"bubble"`
}

// Config configures a [Scheduler]. Zero values select the defaults.
type Config struct {
	// ReleaseInterval is how often one queued sentence becomes a bubble.
	// Default: 3s.
	ReleaseInterval time.Duration

	// Expiry is the maximum bubble age. Default: 16s.
	Expiry time.Duration

	// SweepInterval is how often expired bubbles are removed. Default: 1s.
	SweepInterval time.Duration

	// MaxVisible caps the visible set; the oldest bubble goes first.
	// Default: 5.
	MaxVisible int

	// Palette is the accent rotation. Default: [DefaultPalette].
	Palette []Accent

	// Manual disables the internal timers. The owner then drives
	// [Scheduler.Release] and [Scheduler.Sweep] itself.
	Manual bool

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// Metrics receives bubble and queue metrics. Default:
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.ReleaseInterval <= 0 {
		c.ReleaseInterval = DefaultReleaseInterval
	}
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxVisible <= 0 {
		c.MaxVisible = DefaultMaxVisible
	}
	if len(c.Palette) == 0 {
		c.Palette = DefaultPalette
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// Scheduler owns the sentence queue and the visible bubbles.
//
// A Scheduler accepts sentences only between [Scheduler.Start] and
// [Scheduler.Stop]. Stop clears everything at once, and a timer that fires
// after Stop has no effect.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	queue   []string
	visible []Bubble
	counter uint64
	subs    map[int]chan Event
	nextSub int
}

// New returns a stopped [Scheduler].
func New(cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:  cfg,
		subs: make(map[int]chan Event),
	}
}

// Start opens the scheduler and, unless [Config.Manual] is set, starts the
// release and sweep timers. The timers stop when ctx is cancelled or Stop is
// called. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.gen++
	if s.cfg.Manual {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.gen, s.done)
}

func (s *Scheduler) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	release := time.NewTicker(s.cfg.ReleaseInterval)
	defer release.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-release.C:
			s.mu.Lock()
			if s.running && s.gen == gen {
				s.releaseLocked(s.cfg.Now())
			}
			s.mu.Unlock()
		case <-sweep.C:
			s.mu.Lock()
			if s.running && s.gen == gen {
				s.sweepLocked(s.cfg.Now())
			}
			s.mu.Unlock()
		}
	}
}

// Stop halts the timers and clears the queue and all visible bubbles.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.gen++
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil

	ctx := context.Background()
	if n := len(s.queue); n > 0 {
		s.cfg.Metrics.SentenceQueueDepth.Add(ctx, -int64(n))
	}
	s.cfg.Metrics.RecordBubbleEvicted(ctx, "cleared", len(s.visible))
	s.queue = nil
	s.visible = nil
	s.publishLocked(Event{Type: EventCleared})
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether the scheduler is between Start and Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Enqueue splits text into sentences and appends them to the queue. It
// returns the number of sentences queued; a stopped scheduler queues none.
func (s *Scheduler) Enqueue(text string) int {
	sentences := SplitSentences(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || len(sentences) == 0 {
		return 0
	}
	s.queue = append(s.queue, sentences...)
	s.cfg.Metrics.SentenceQueueDepth.Add(context.Background(), int64(len(sentences)))
	return len(sentences)
}

// Release turns the oldest queued sentence into a bubble created at now.
// It releases at most one sentence and reports whether it did.
func (s *Scheduler) Release(now time.Time) (Bubble, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return Bubble{}, false
	}
	return s.releaseLocked(now)
}

func (s *Scheduler) releaseLocked(now time.Time) (Bubble, bool) {
	if len(s.queue) == 0 {
		return Bubble{}, false
	}
	text := s.queue[0]
	s.queue[0] = ""
	s.queue = s.queue[1:]

	n := s.counter
	s.counter++
	b := Bubble{
		ID:        n + 1,
		Text:      text,
		Lane:      laneFor(n),
		Accent:    accentFor(n, s.cfg.Palette),
		CreatedAt: now,
	}
	s.visible = append(s.visible, b)

	ctx := context.Background()
	s.cfg.Metrics.SentenceQueueDepth.Add(ctx, -1)
	s.cfg.Metrics.BubblesReleased.Add(ctx, 1)
	s.publishLocked(Event{Type: EventReleased, Bubble: b})

	var evicted int
	for len(s.visible) > s.cfg.MaxVisible {
		old := s.visible[0]
		s.visible = s.visible[1:]
		evicted++
		s.publishLocked(Event{Type: EventEvicted, Bubble: old})
	}
	s.cfg.Metrics.RecordBubbleEvicted(ctx, "cap", evicted)
	return b, true
}

// Sweep removes every bubble older than the expiry horizon at now and
// returns them.
func (s *Scheduler) Sweep(now time.Time) []Bubble {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.sweepLocked(now)
}

func (s *Scheduler) sweepLocked(now time.Time) []Bubble {
	var expired []Bubble
	kept := s.visible[:0]
	for _, b := range s.visible {
		if now.Sub(b.CreatedAt) > s.cfg.Expiry {
			expired = append(expired, b)
			continue
		}
		kept = append(kept, b)
	}
	s.visible = kept
	for _, b := range expired {
		s.publishLocked(Event{Type: EventExpired, Bubble: b})
	}
	s.cfg.Metrics.RecordBubbleEvicted(context.Background(), "expired", len(expired))
	return expired
}

// Visible returns the bubbles on screen, oldest first.
func (s *Scheduler) Visible() []Bubble {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bubble, len(s.visible))
	copy(out, s.visible)
	return out
}

// Pending returns the number of queued sentences.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Subscribe returns a channel receiving every event from now on and a
// function that ends the subscription. A subscriber that falls more than
// buffer events behind misses events.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Scheduler) publishLocked(ev Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
