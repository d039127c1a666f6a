package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teng-lin/beamcode/pkg/types"
)

// OutQueue holds user messages submitted while the session was not idle.
// It is owned by the runtime goroutine.
type OutQueue struct {
	items []types.QueuedMessage
}

// NewOutQueue creates an empty queue.
func NewOutQueue() *OutQueue {
	return &OutQueue{}
}

// Enqueue appends a message for the given author and returns it.
func (q *OutQueue) Enqueue(authorID, content string) types.QueuedMessage {
	item := types.QueuedMessage{
		ID:       "q_" + uuid.NewString(),
		AuthorID: authorID,
		Content:  content,
		QueuedAt: time.Now(),
	}
	q.items = append(q.items, item)
	return item
}

// Update rewrites a queued message's content. Only the original author may
// update it.
func (q *OutQueue) Update(id, authorID, content string) error {
	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		if q.items[i].AuthorID != authorID {
			return fmt.Errorf("queued message %s belongs to another author", id)
		}
		q.items[i].Content = content
		return nil
	}
	return fmt.Errorf("queued message %s not found", id)
}

// Cancel removes a queued message. Only the original author may cancel it.
func (q *OutQueue) Cancel(id, authorID string) error {
	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		if q.items[i].AuthorID != authorID {
			return fmt.Errorf("queued message %s belongs to another author", id)
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return nil
	}
	return fmt.Errorf("queued message %s not found", id)
}

// Dequeue pops the head of the queue.
func (q *OutQueue) Dequeue() (types.QueuedMessage, bool) {
	if len(q.items) == 0 {
		return types.QueuedMessage{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// Len returns the queue depth.
func (q *OutQueue) Len() int { return len(q.items) }

// Items returns a copy of the queued messages in order.
func (q *OutQueue) Items() []types.QueuedMessage {
	out := make([]types.QueuedMessage, len(q.items))
	copy(out, q.items)
	return out
}

// Clear drops everything, returning what was queued.
func (q *OutQueue) Clear() []types.QueuedMessage {
	dropped := q.items
	q.items = nil
	return dropped
}

// Restore refills the queue from persisted state.
func (q *OutQueue) Restore(items []types.QueuedMessage) {
	q.items = append([]types.QueuedMessage(nil), items...)
}
