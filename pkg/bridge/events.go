package bridge

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType classifies a bridge event.
type EventType string

// Event types published on the bridge's event channel.
const (
	EventStarting       EventType = "starting"
	EventRunning        EventType = "running"
	EventLog            EventType = "log"
	EventError          EventType = "error"
	EventHealthFailed   EventType = "health_failed"
	EventRestarting     EventType = "restarting"
	EventExited         EventType = "exited"
	EventStopped        EventType = "stopped"
	EventBudgetExceeded EventType = "budget_exceeded"
)

// Event is one operational notification from the bridge. Err is set for
// error, health_failed, exited and budget_exceeded events.
type Event struct {
	Type       EventType
	Time       time.Time
	InstanceID string
	Generation uint64
	PID        int
	Message    string
	Err        error
}

// defaultSubscriberBuffer is used when Subscribe is called with buffer <= 0.
const defaultSubscriberBuffer = 64

// Bus fans events out to any number of channel subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the event and the miss is
// counted in Dropped.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus a
// function that unsubscribes and closes the channel. The returned function
// is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was not keeping up.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel and later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
