// Package events fans out workspace notifications to interested renderers.
package events

import (
	"sync"
	"time"

	"github.com/fruitsalade/fruitsalade/workspace/internal/metrics"
)

const (
	EventContextChanged = "context_changed"
	EventListChanged    = "list_changed"
	EventOperation      = "operation"
	EventNotice         = "notice"
)

// Event is one workspace notification.
type Event struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id,omitempty"`

	// Operation events
	Operation string   `json:"operation,omitempty"`
	Targets   []string `json:"targets,omitempty"`
	Status    string   `json:"status,omitempty"`

	// Notice events carry the single user-visible message.
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`

	Files     int   `json:"files,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

// subscription is the set of event types one subscriber wants; nil means all.
type subscription map[string]struct{}

func (s subscription) wants(eventType string) bool {
	if s == nil {
		return true
	}
	_, ok := s[eventType]
	return ok
}

// Broadcaster delivers every published event to the subscribers that asked
// for its type. Publishing never blocks: a full subscriber misses the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]subscription
	buffer      int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold 64 events.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]subscription),
		buffer:      64,
	}
}

// Subscribe registers a subscriber for the given event types, or for every
// type when none are given. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(types ...string) chan Event {
	var sub subscription
	if len(types) > 0 {
		sub = make(subscription, len(types))
		for _, t := range types {
			sub[t] = struct{}{}
		}
	}
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = sub
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish implements the controller's notifier.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case ch <- event:
		default:
			metrics.RecordDroppedEvent(event.Type)
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
