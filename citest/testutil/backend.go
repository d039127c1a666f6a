// Package testutil provides a scriptable fake backend for end-to-end
// runtime tests.
package testutil

import (
	"context"
	"sync"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/pkg/types"
)

// ScriptedAdapter hands out ScriptedBackends and remembers them.
type ScriptedAdapter struct {
	AdapterName string

	mu       sync.Mutex
	backends []*ScriptedBackend
}

func NewScriptedAdapter(name string) *ScriptedAdapter {
	return &ScriptedAdapter{AdapterName: name}
}

func (a *ScriptedAdapter) Name() string { return a.AdapterName }

func (a *ScriptedAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, Permissions: true, Availability: adapter.AvailabilityLocal}
}

func (a *ScriptedAdapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	b := NewScriptedBackend()
	a.mu.Lock()
	a.backends = append(a.backends, b)
	a.mu.Unlock()
	return b, nil
}

// Backend returns the most recently connected backend, or nil.
func (a *ScriptedAdapter) Backend() *ScriptedBackend {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.backends) == 0 {
		return nil
	}
	return a.backends[len(a.backends)-1]
}

// ScriptedBackend is a backend session whose replies the test scripts.
type ScriptedBackend struct {
	outbox *adapter.Outbox

	mu     sync.Mutex
	sent   []types.UnifiedMessage
	closed bool
}

func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{outbox: adapter.NewOutbox(0)}
}

func (b *ScriptedBackend) Send(ctx context.Context, msg types.UnifiedMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return adapter.ErrSessionClosed
	}
	b.sent = append(b.sent, msg)
	return nil
}

func (b *ScriptedBackend) Messages() <-chan types.UnifiedMessage { return b.outbox.Channel() }

func (b *ScriptedBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.outbox.Close()
	b.outbox.Finish()
	return nil
}

// Sent returns a copy of everything the daemon pushed to the backend.
func (b *ScriptedBackend) Sent() []types.UnifiedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.UnifiedMessage, len(b.sent))
	copy(out, b.sent)
	return out
}

// Emit pushes an arbitrary frame into the stream.
func (b *ScriptedBackend) Emit(msg types.UnifiedMessage) { b.outbox.Emit(msg) }

// EmitInit announces the backend session.
func (b *ScriptedBackend) EmitInit(backendID string) {
	msg := types.UnifiedMessage{Type: types.MessageTypeSessionInit, Role: types.RoleSystem}
	msg.SetMeta(types.MetaSessionID, backendID)
	b.outbox.Emit(msg)
}

// EmitAssistant streams one assistant reply.
func (b *ScriptedBackend) EmitAssistant(text string) {
	b.outbox.Emit(types.UnifiedMessage{
		Type:    types.MessageTypeAssistant,
		Role:    types.RoleAssistant,
		Content: []types.ContentBlock{types.TextBlock(text)},
	})
}

// EmitResult ends a turn.
func (b *ScriptedBackend) EmitResult(subtype string) {
	msg := types.UnifiedMessage{Type: types.MessageTypeResult, Role: types.RoleSystem}
	msg.SetMeta(types.MetaSubtype, subtype)
	b.outbox.Emit(msg)
}

// Sink collects fanned-out messages for one consumer.
type Sink struct {
	mu   sync.Mutex
	msgs []types.UnifiedMessage
}

func (s *Sink) WriteMessage(msg types.UnifiedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *Sink) Close() error { return nil }

// Messages returns a copy of everything delivered so far.
func (s *Sink) Messages() []types.UnifiedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.UnifiedMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// ByType filters delivered messages.
func (s *Sink) ByType(t types.MessageType) []types.UnifiedMessage {
	var out []types.UnifiedMessage
	for _, m := range s.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// BySubtype filters delivered messages on the subtype metadata key.
func (s *Sink) BySubtype(sub string) []types.UnifiedMessage {
	var out []types.UnifiedMessage
	for _, m := range s.Messages() {
		if m.MetaString(types.MetaSubtype) == sub {
			out = append(out, m)
		}
	}
	return out
}
