package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/pkg/types"
)

// consumerQueueLimit is the per-consumer pending-send threshold above which
// backpressure kicks in.
const consumerQueueLimit = 256

// ConsumerSink is one attached consumer's write side, typically a WebSocket.
type ConsumerSink interface {
	WriteMessage(msg types.UnifiedMessage) error
	Close() error
}

// Broadcaster owns a session's consumer set and guarantees per-consumer
// in-order delivery. When a consumer falls behind, stream deltas are dropped
// first; result, permission_request, session_init, and status_change frames
// are never dropped.
type Broadcaster struct {
	mu    sync.Mutex
	links map[string]*consumerLink
	log   zerolog.Logger
}

// NewBroadcaster creates an empty broadcaster for one session.
func NewBroadcaster(sessionID string) *Broadcaster {
	return &Broadcaster{
		links: make(map[string]*consumerLink),
		log:   logging.Component("broadcaster").With().Str("sessionId", sessionID).Logger(),
	}
}

type consumerLink struct {
	id       string
	identity types.Identity
	sink     ConsumerSink
	log      zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []types.UnifiedMessage
	closed  bool
	dropped int
}

// essential reports whether a message may never be dropped under
// backpressure.
func essential(msg types.UnifiedMessage) bool {
	switch msg.Type {
	case types.MessageTypeStreamEvent:
		return false
	default:
		return true
	}
}

// Attach adds a consumer and starts its writer.
func (b *Broadcaster) Attach(id string, identity types.Identity, sink ConsumerSink) {
	link := &consumerLink{
		id:       id,
		identity: identity,
		sink:     sink,
		log:      b.log.With().Str("consumerId", id).Logger(),
	}
	link.cond = sync.NewCond(&link.mu)

	b.mu.Lock()
	if old, exists := b.links[id]; exists {
		old.close()
	}
	b.links[id] = link
	b.mu.Unlock()

	go link.writeLoop()
}

// Detach removes a consumer and closes its sink.
func (b *Broadcaster) Detach(id string) bool {
	b.mu.Lock()
	link, ok := b.links[id]
	if ok {
		delete(b.links, id)
	}
	b.mu.Unlock()

	if ok {
		link.close()
	}
	return ok
}

// Identity reports the identity a consumer attached with.
func (b *Broadcaster) Identity(id string) (types.Identity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	link, ok := b.links[id]
	if !ok {
		return types.Identity{}, false
	}
	return link.identity, true
}

// Count returns the number of attached consumers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}

// Broadcast enqueues a message for every consumer.
func (b *Broadcaster) Broadcast(msg types.UnifiedMessage) {
	b.mu.Lock()
	links := make([]*consumerLink, 0, len(b.links))
	for _, link := range b.links {
		links = append(links, link)
	}
	b.mu.Unlock()

	for _, link := range links {
		link.enqueue(msg)
	}
}

// SendTo enqueues messages for a single consumer, preserving order.
func (b *Broadcaster) SendTo(id string, msgs ...types.UnifiedMessage) {
	b.mu.Lock()
	link, ok := b.links[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	for _, msg := range msgs {
		link.enqueue(msg)
	}
}

// CloseAll detaches every consumer.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	links := b.links
	b.links = make(map[string]*consumerLink)
	b.mu.Unlock()

	for _, link := range links {
		link.close()
	}
}

func (l *consumerLink) enqueue(msg types.UnifiedMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if len(l.pending) >= consumerQueueLimit {
		// Backpressure: evict the oldest droppable entry before growing.
		evicted := false
		for i := range l.pending {
			if !essential(l.pending[i]) {
				l.pending = append(l.pending[:i], l.pending[i+1:]...)
				l.dropped++
				evicted = true
				break
			}
		}
		if !evicted && !essential(msg) {
			l.dropped++
			return
		}
		if l.dropped > 0 && l.dropped%100 == 1 {
			l.log.Warn().Int("dropped", l.dropped).Msg("slow consumer, dropping stream events")
		}
	}

	l.pending = append(l.pending, msg)
	l.cond.Signal()
}

func (l *consumerLink) writeLoop() {
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed && len(l.pending) == 0 {
			l.mu.Unlock()
			return
		}
		msg := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		if err := l.sink.WriteMessage(msg); err != nil {
			l.log.Debug().Err(err).Msg("consumer write failed")
			l.close()
			return
		}
	}
}

func (l *consumerLink) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.pending = nil
	l.cond.Broadcast()
	l.mu.Unlock()

	_ = l.sink.Close()
}
