package daemon

import (
	"testing"
	"time"
)

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()
	ch1, done1 := bus.Subscribe()
	ch2, done2 := bus.Subscribe()
	defer bus.Unsubscribe(done1)
	defer bus.Unsubscribe(done2)

	bus.Publish(Event{Type: EventChat, Room: "r1", Content: "hello"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != EventChat || e.Room != "r1" {
				t.Errorf("subscriber %d got %+v", i, e)
			}
			if e.TS == "" {
				t.Error("timestamp must be set on publish")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestEventBusSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewEventBus()
	_, done := bus.Subscribe() // never drained
	defer bus.Unsubscribe(done)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Type: EventError, Message: "x"})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestEventBusRecent(t *testing.T) {
	bus := NewEventBus()
	for i := 0; i < 250; i++ {
		bus.Publish(Event{Type: EventChat, Content: "m"})
	}
	recent := bus.Recent(0)
	if len(recent) != 200 {
		t.Errorf("ring buffer holds %d events, want 200", len(recent))
	}
	if got := bus.Recent(10); len(got) != 10 {
		t.Errorf("Recent(10) returned %d events", len(got))
	}
}

func TestSubscribeWithReplayDeliversEachEventOnce(t *testing.T) {
	bus := NewEventBus()
	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: EventChat, Room: "r1", Content: "backlog"})
	}

	backlog, ch, done := bus.SubscribeWithReplay(10)
	defer bus.Unsubscribe(done)

	if len(backlog) != 3 {
		t.Fatalf("backlog = %d events, want 3", len(backlog))
	}

	bus.Publish(Event{Type: EventChat, Room: "r1", Content: "live"})

	select {
	case e := <-ch:
		if e.Content != "live" {
			t.Errorf("live channel delivered %q, want only post-subscribe events", e.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("live event never delivered")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra delivery: %+v", e)
	default:
	}
}

func TestEmitMapsFields(t *testing.T) {
	bus := NewEventBus()
	ch, done := bus.Subscribe()
	defer bus.Unsubscribe(done)

	bus.Emit(EventRefreshFailed, map[string]any{"room": "r9", "error": "llm down"})

	select {
	case e := <-ch:
		if e.Type != EventRefreshFailed || e.Room != "r9" || e.Message != "llm down" {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}
