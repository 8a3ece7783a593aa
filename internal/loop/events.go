package loop

import (
	"sync"

	"github.com/MrWong99/adroast/internal/session"
)

// EventType identifies a [Loop] event.
type EventType string

const (
	EventState   EventType = "state"
	EventSession EventType = "session"
	EventNotice  EventType = "notice"
)

// Event describes a change a viewer should see. Only the field matching
// Type is set, except that State is always filled in.
type Event struct {
	Type    EventType       `json:"type"`
	State   State           `json:"state"`
	Session *session.Record `json:"session,omitempty"`
	Notice  *Notice         `json:"notice,omitempty"`
}

type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks; slow subscribers miss events.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
