package service

import "sync"

// Event resources and actions published by the engine.
const (
	ResourceLayers = "layers"
	ResourceView   = "view"

	ActionLoaded  = "loaded"
	ActionFailed  = "failed"
	ActionToggled = "toggled"
	ActionUpdated = "updated"
)

// Event represents a state change in the engine.
type Event struct {
	Resource string // "layers" or "view"
	Action   string // "loaded", "failed", "toggled", "updated"
	ID       string // layer ID, empty for view events
}

// EventBus is a simple fan-out pub/sub for engine events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
// A nil bus drops the event.
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
