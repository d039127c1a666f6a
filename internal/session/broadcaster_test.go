package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teng-lin/beamcode/pkg/types"
)

// recordingSink captures delivered messages; optionally gated so tests can
// hold the writer and build up backpressure.
type recordingSink struct {
	mu     sync.Mutex
	msgs   []types.UnifiedMessage
	closed bool
	gate   chan struct{}
	fail   bool
}

func (s *recordingSink) WriteMessage(msg types.UnifiedMessage) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink failed")
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []types.UnifiedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.UnifiedMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestBroadcastInOrderPerConsumer(t *testing.T) {
	b := NewBroadcaster("s1")
	sink1 := &recordingSink{}
	sink2 := &recordingSink{}
	b.Attach("c1", types.Identity{ConsumerID: "c1", Role: "participant"}, sink1)
	b.Attach("c2", types.Identity{ConsumerID: "c2", Role: "observer"}, sink2)

	for i := 0; i < 50; i++ {
		b.Broadcast(types.UnifiedMessage{ID: fmt.Sprintf("msg_%08d", i), Type: types.MessageTypeAssistant})
	}

	require.Eventually(t, func() bool {
		return sink1.count() == 50 && sink2.count() == 50
	}, 2*time.Second, 10*time.Millisecond)

	for _, sink := range []*recordingSink{sink1, sink2} {
		msgs := sink.snapshot()
		for i := 1; i < len(msgs); i++ {
			assert.Less(t, msgs[i-1].ID, msgs[i].ID, "delivery must preserve order")
		}
	}
}

func TestBackpressureDropsStreamEventsFirst(t *testing.T) {
	b := NewBroadcaster("s1")
	sink := &recordingSink{gate: make(chan struct{})}
	b.Attach("slow", types.Identity{ConsumerID: "slow"}, sink)

	// Overfill with stream deltas, then interleave essentials.
	for i := 0; i < consumerQueueLimit+50; i++ {
		b.Broadcast(types.UnifiedMessage{ID: fmt.Sprintf("d%d", i), Type: types.MessageTypeStreamEvent})
	}
	essential := []types.UnifiedMessage{
		{ID: "r1", Type: types.MessageTypeResult},
		{ID: "p1", Type: types.MessageTypePermissionRequest},
		{ID: "i1", Type: types.MessageTypeSessionInit},
		{ID: "s1", Type: types.MessageTypeStatusChange},
	}
	for _, msg := range essential {
		b.Broadcast(msg)
	}

	close(sink.gate) // release the writer

	require.Eventually(t, func() bool {
		got := sink.snapshot()
		found := 0
		for _, m := range got {
			switch m.ID {
			case "r1", "p1", "i1", "s1":
				found++
			}
		}
		return found == 4
	}, 2*time.Second, 10*time.Millisecond, "essential frames must survive backpressure")

	assert.Less(t, sink.count(), consumerQueueLimit+54, "some stream deltas must have been dropped")
}

func TestDetachClosesSink(t *testing.T) {
	b := NewBroadcaster("s1")
	sink := &recordingSink{}
	b.Attach("c1", types.Identity{ConsumerID: "c1"}, sink)

	require.True(t, b.Detach("c1"))
	assert.False(t, b.Detach("c1"), "second detach finds nothing")

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.closed
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.Count())
}

func TestFailedWriteDetachesConsumer(t *testing.T) {
	b := NewBroadcaster("s1")
	sink := &recordingSink{fail: true}
	b.Attach("c1", types.Identity{ConsumerID: "c1"}, sink)

	b.Broadcast(types.UnifiedMessage{ID: "m1", Type: types.MessageTypeAssistant})

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.closed
	}, time.Second, 10*time.Millisecond)
}

func TestSendToUnknownConsumerIsNoop(t *testing.T) {
	b := NewBroadcaster("s1")
	b.SendTo("ghost", types.UnifiedMessage{ID: "m1"})
}

func TestReattachReplacesLink(t *testing.T) {
	b := NewBroadcaster("s1")
	old := &recordingSink{}
	b.Attach("c1", types.Identity{ConsumerID: "c1"}, old)
	fresh := &recordingSink{}
	b.Attach("c1", types.Identity{ConsumerID: "c1"}, fresh)

	require.Eventually(t, func() bool {
		old.mu.Lock()
		defer old.mu.Unlock()
		return old.closed
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.Count())
}
