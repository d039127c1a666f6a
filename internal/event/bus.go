// Package event provides the domain event bus for the daemon using watermill.
package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type represents the type of a domain event.
type Type string

const (
	SessionCreated       Type = "session:created"
	SessionStateChanged  Type = "session:state"
	SessionClosed        Type = "session:closed"
	InvalidTransition    Type = "session:invalid_transition"
	ConsumerConnected    Type = "consumer:connected"
	ConsumerDisconnected Type = "consumer:disconnected"
	BackendConnected     Type = "backend:connected"
	BackendDisconnected  Type = "backend:disconnected"
	BackendError         Type = "backend:error"
	MessageFanout        Type = "message:fanout"
	QueueChanged         Type = "queue:changed"
	PermissionRequested  Type = "permission:requested"
	PermissionResolved   Type = "permission:resolved"
	ProcessExited        Type = "process:exited"
	ProcessLaunched      Type = "process:launched"
	TeamMemberJoined     Type = "team:member:joined"
	TeamMemberStatus     Type = "team:member:status"
	TeamMemberLeft       Type = "team:member:left"
	TeamTaskCreated      Type = "team:task:created"
	TeamTaskClaimed      Type = "team:task:claimed"
	TeamTaskCompleted    Type = "team:task:completed"
	ErrorEvent           Type = "error"
)

// Event represents an event published on the bus.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is a multi-producer / multi-consumer broadcast bus built on watermill's
// gochannel. Publishing an event with no subscribers is a silent no-op; in
// particular emitting ErrorEvent never fails.
type Bus struct {
	mu sync.RWMutex

	// Watermill pub/sub infrastructure for middleware/routing.
	pubsub *gochannel.GoChannel

	// Direct subscriber tracking preserves type information.
	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers:  make(map[Type][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// newID generates a unique subscriber ID.
func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// collect snapshots the subscribers for an event under the read lock.
func (b *Bus) collect(t Type) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	subs := make([]Subscriber, 0, len(b.subscribers[t])+len(b.global))
	for _, entry := range b.subscribers[t] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish sends an event to all subscribers asynchronously.
// Each subscriber is called in its own goroutine to prevent blocking.
func (b *Bus) Publish(event Event) {
	for _, sub := range b.collect(event.Type) {
		go sub(event)
	}
}

// PublishSync sends an event to all subscribers synchronously.
// All subscribers are called in the current goroutine before returning.
func (b *Bus) PublishSync(event Event) {
	for _, sub := range b.collect(event.Type) {
		sub(event)
	}
}

// Close closes the bus. Further publishes and subscribes are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.closedCancel()
	b.mu.Unlock()

	return b.pubsub.Close()
}
