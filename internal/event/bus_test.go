package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBusSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: SessionCreated, SessionID: "s1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != SessionCreated {
			t.Errorf("expected SessionCreated, got %v", received.Type)
		}
		if received.SessionID != "s1" {
			t.Errorf("expected s1, got %v", received.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
	})
	defer unsub()

	bus.PublishSync(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: ConsumerDisconnected})
	bus.PublishSync(Event{Type: TeamTaskClaimed})

	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("expected 3 events, got %d", count)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: SessionCreated})
	unsub()
	bus.PublishSync(Event{Type: SessionCreated})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestErrorEventWithNoListenersDoesNotPanic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Must be a silent no-op.
	bus.Publish(Event{Type: ErrorEvent, Data: "boom"})
	bus.PublishSync(Event{Type: ErrorEvent, Data: "boom"})
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()

	var count int32
	bus.Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	bus.PublishSync(Event{Type: SessionCreated})
	if atomic.LoadInt32(&count) != 0 {
		t.Error("subscriber invoked after close")
	}

	// Subscribing after close returns a usable no-op unsubscribe.
	unsub := bus.Subscribe(SessionCreated, func(e Event) {})
	unsub()

	// Close is idempotent.
	if err := bus.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
