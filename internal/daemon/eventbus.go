package daemon

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published on the daemon event stream.
const (
	EventChat          = "chat"                   // persisted user/assistant message
	EventRefreshed     = "context_refreshed"      // room context replaced
	EventRefreshFailed = "context_refresh_failed" // background refresh failed
	EventError         = "error"                  // other failures worth surfacing
)

// Event is one item on the stream.
type Event struct {
	Type    string `json:"type"`
	Room    string `json:"room,omitempty"`
	Role    string `json:"role,omitempty"`    // for chat events
	Content string `json:"content,omitempty"` // for chat events
	Message string `json:"message,omitempty"` // for error events
	TS      string `json:"ts"`
}

// MarshalEvent serializes an event with its timestamp set.
func (e Event) MarshalEvent() []byte {
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339)
	}
	b, _ := json.Marshal(e)
	return b
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// EventBus fans events out to SSE subscribers. Thread-safe. Slow
// subscribers drop events; a ring buffer hydrates new connections.
// One mutex covers both the ring and the subscriber set so a replay
// snapshot and the subscription it precedes are atomic against
// concurrent publishes.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	recent      []Event
	maxRecent   int
}

// NewEventBus creates an event bus keeping the last 200 events.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*subscriber]struct{}),
		maxRecent:   200,
	}
}

// Publish delivers an event to all subscribers without blocking.
func (eb *EventBus) Publish(e Event) {
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.recent = append(eb.recent, e)
	if len(eb.recent) > eb.maxRecent {
		eb.recent = eb.recent[len(eb.recent)-eb.maxRecent:]
	}
	for sub := range eb.subscribers {
		select {
		case sub.ch <- e:
		default:
			// subscriber too slow, it catches up via the recent buffer
		}
	}
}

// Emit publishes a typed event from loose fields. It is the sink shape
// the refresh worker expects.
func (eb *EventBus) Emit(eventType string, fields map[string]any) {
	e := Event{Type: eventType}
	if room, ok := fields["room"].(string); ok {
		e.Room = room
	}
	if msg, ok := fields["error"].(string); ok {
		e.Message = msg
	}
	eb.Publish(e)
}

// Subscribe registers a subscriber. The caller must Unsubscribe with the
// returned done channel.
func (eb *EventBus) Subscribe() (<-chan Event, chan struct{}) {
	_, ch, done := eb.subscribe(0)
	return ch, done
}

// SubscribeWithReplay registers a subscriber and returns up to n events
// of backlog in the same critical section, so an event lands in exactly
// one of the two: the backlog or the live channel.
func (eb *EventBus) SubscribeWithReplay(n int) ([]Event, <-chan Event, chan struct{}) {
	return eb.subscribe(n)
}

func (eb *EventBus) subscribe(replay int) ([]Event, <-chan Event, chan struct{}) {
	sub := &subscriber{
		ch:   make(chan Event, 64),
		done: make(chan struct{}),
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	var backlog []Event
	if replay > 0 {
		if replay > len(eb.recent) {
			replay = len(eb.recent)
		}
		backlog = make([]Event, replay)
		copy(backlog, eb.recent[len(eb.recent)-replay:])
	}
	eb.subscribers[sub] = struct{}{}
	return backlog, sub.ch, sub.done
}

// Unsubscribe removes a subscriber and closes its channel.
func (eb *EventBus) Unsubscribe(done chan struct{}) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for sub := range eb.subscribers {
		if sub.done == done {
			close(sub.ch)
			delete(eb.subscribers, sub)
			return
		}
	}
}

// Recent returns up to n most recent events.
func (eb *EventBus) Recent(n int) []Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if n <= 0 || n > len(eb.recent) {
		n = len(eb.recent)
	}
	result := make([]Event, n)
	copy(result, eb.recent[len(eb.recent)-n:])
	return result
}
