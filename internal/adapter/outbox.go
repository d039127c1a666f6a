package adapter

import (
	"sync"

	"github.com/teng-lin/beamcode/pkg/types"
)

// DefaultOutboxSize bounds the normalized message channel of a backend
// session.
const DefaultOutboxSize = 256

// Outbox is the bounded channel of normalized messages every backend session
// exposes. A single producer (the adapter's read pump) emits into it and
// calls Finish when it stops; Close unblocks the producer from the teardown
// side. Both are idempotent.
type Outbox struct {
	ch         chan types.UnifiedMessage
	done       chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
}

// NewOutbox creates an Outbox with the given buffer size.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		ch:   make(chan types.UnifiedMessage, size),
		done: make(chan struct{}),
	}
}

// Emit delivers one message, blocking while the buffer is full. Emits after
// Close are dropped.
func (o *Outbox) Emit(msg types.UnifiedMessage) {
	select {
	case <-o.done:
		return
	default:
	}
	select {
	case o.ch <- msg:
	case <-o.done:
	}
}

// Channel returns the receive side. It is closed by Finish, never by Close.
func (o *Outbox) Channel() <-chan types.UnifiedMessage { return o.ch }

// Done is closed when the outbox is shut down; the producer uses it to stop.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Close stops further emits and signals the producer to finish.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// Finish closes the message channel. Only the producer calls this, after its
// last Emit.
func (o *Outbox) Finish() {
	o.finishOnce.Do(func() { close(o.ch) })
}
