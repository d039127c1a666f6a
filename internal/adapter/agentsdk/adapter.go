// Package agentsdk implements the SDK-driven adapter: turns are executed by
// an injected query function instead of a subprocess.
package agentsdk

import (
	"context"
	"sync"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/pkg/types"
)

// AdapterName is the registry name of this adapter.
const AdapterName = "agent-sdk"

// QueryFunc runs one prompt against the SDK and streams the resulting
// messages. The returned channel must be closed when the turn completes; the
// final message of a successful turn is a result message.
type QueryFunc func(ctx context.Context, prompt types.UnifiedMessage, opts QueryOptions) (<-chan types.UnifiedMessage, error)

// QueryOptions carries per-session settings to the query function.
type QueryOptions struct {
	SessionID string
	Cwd       string
	Model     string
	Resume    string
}

// Adapter wraps a QueryFunc as a backend.
type Adapter struct {
	query QueryFunc
}

// New creates the adapter around the injected query function.
func New(query QueryFunc) *Adapter {
	return &Adapter{query: query}
}

func (a *Adapter) Name() string { return AdapterName }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:    true,
		Availability: adapter.AvailabilityLocal,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	sessCtx, cancel := context.WithCancel(context.Background())
	return &session{
		query: a.query,
		opts: QueryOptions{
			SessionID: opts.SessionID,
			Cwd:       opts.Cwd,
			Model:     opts.Model,
			Resume:    opts.Resume,
		},
		outbox: adapter.NewOutbox(0),
		ctx:    sessCtx,
		cancel: cancel,
	}, nil
}

type session struct {
	query  QueryFunc
	opts   QueryOptions
	outbox *adapter.Outbox
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	turnWG sync.WaitGroup
}

// Send runs one turn through the query function. Turns are serialized by the
// runtime's sequencer; a second Send while one is in flight is still safe,
// but each turn is drained by its own goroutine, so the messages of
// overlapping turns may interleave.
func (s *session) Send(ctx context.Context, msg types.UnifiedMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return adapter.ErrSessionClosed
	}
	s.turnWG.Add(1)
	s.mu.Unlock()

	stream, err := s.query(s.ctx, msg, s.opts)
	if err != nil {
		s.turnWG.Done()
		return adapter.NewBackendError(adapter.ErrAPIError, "query", err)
	}

	go func() {
		defer s.turnWG.Done()
		for m := range stream {
			s.outbox.Emit(m)
		}
	}()
	return nil
}

func (s *session) Messages() <-chan types.UnifiedMessage { return s.outbox.Channel() }

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.outbox.Close()
	go func() {
		// Let in-flight turns drain, then end the stream.
		s.turnWG.Wait()
		s.outbox.Finish()
	}()
	return nil
}

// Interrupt cancels the in-flight turn by cancelling the session context.
// The SDK restarts cleanly on the next Send.
func (s *session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return adapter.ErrSessionClosed
	}
	s.cancel()
	sessCtx, cancel := context.WithCancel(context.Background())
	s.ctx = sessCtx
	s.cancel = cancel
	return nil
}

var (
	_ adapter.BackendSession = (*session)(nil)
	_ adapter.Interruptible  = (*session)(nil)
)
