package camera

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

// EventType names a device notification pushed to subscribers
type EventType string

const (
	EventAllocated EventType = "allocated"
	EventStarted   EventType = "started"
	EventStopped   EventType = "stopped"
	EventClosed    EventType = "closed"
	EventError     EventType = "error"
	EventPhoto     EventType = "photo"
	EventOptions   EventType = "options"
)

// Event is one device notification
type Event struct {
	Type   EventType       `json:"type"`
	Device string          `json:"device"`
	Time   time.Time       `json:"time"`
	State  State           `json:"state,omitempty"`
	Format *capture.Format `json:"format,omitempty"`
	Job    string          `json:"job,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// broker fans events out to subscriber channels. Slow subscribers miss
// events rather than block a device callback.
type broker struct {
	mu        sync.RWMutex
	listeners []chan Event
}

func (b *broker) subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.listeners = append(b.listeners, ch)
	b.mu.Unlock()
	return ch
}

func (b *broker) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *broker) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, listener := range b.listeners {
		select {
		case listener <- e:
		default:
			// Skip if channel is full
		}
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
}
