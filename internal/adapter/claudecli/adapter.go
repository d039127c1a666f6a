package claudecli

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/gateway"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/pkg/types"
)

// AdapterName is the registry name of this adapter.
const AdapterName = "claude"

// Adapter connects to a Claude CLI over the inverted WebSocket. The launcher
// spawns the CLI; Connect waits for the gateway to deliver the socket the
// CLI dials back.
type Adapter struct {
	registry *gateway.SocketRegistry
	timeout  time.Duration
}

// New creates the adapter over the gateway's socket registry.
func New(registry *gateway.SocketRegistry, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = gateway.DefaultDeliveryTimeout
	}
	return &Adapter{registry: registry, timeout: timeout}
}

func (a *Adapter) Name() string { return AdapterName }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: true,
		Teams:         true,
		Availability:  adapter.AvailabilityLocal,
	}
}

// Connect waits for the CLI's inverted socket and wraps it as a backend
// session.
func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	sock, err := a.registry.Await(ctx, opts.SessionID, a.timeout)
	if err != nil {
		return nil, adapter.NewBackendError(adapter.ErrProcess, "connect", err)
	}
	return newSession(opts.SessionID, sock), nil
}

type session struct {
	sessionID string
	sock      *gateway.CLISocket
	outbox    *adapter.Outbox
	log       zerolog.Logger

	mu        sync.Mutex
	backendID string
	closed    bool
}

func newSession(sessionID string, sock *gateway.CLISocket) *session {
	s := &session{
		sessionID: sessionID,
		sock:      sock,
		outbox:    adapter.NewOutbox(0),
		log:       logging.Component("adapter.claude").With().Str("sessionId", sessionID).Logger(),
	}
	go s.readPump()
	return s
}

func (s *session) readPump() {
	defer s.outbox.Finish()

	frames := s.sock.Subscribe()
	for {
		select {
		case line, ok := <-frames:
			if !ok {
				return
			}
			for _, msg := range Inbound(line) {
				s.captureBackendID(&msg)
				s.outbox.Emit(msg)
			}
		case <-s.outbox.Done():
			return
		}
	}
}

// captureBackendID remembers the CLI's own session id from the first frame
// that carries one, for resume across daemon restarts.
func (s *session) captureBackendID(msg *types.UnifiedMessage) {
	id := msg.MetaString(types.MetaSessionID)
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.backendID == "" {
		s.backendID = id
	}
	s.mu.Unlock()
}

func (s *session) Send(ctx context.Context, msg types.UnifiedMessage) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return adapter.ErrSessionClosed
	}

	data, ok := Outbound(msg, s.sessionID)
	if !ok {
		// Nothing to put on the wire for this message type.
		return nil
	}
	if err := s.sock.WriteFrame(data); err != nil {
		return adapter.NewBackendError(adapter.ErrProtocol, "send", err)
	}
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

	s.outbox.Close()
	s.sock.Close()
	return nil
}

// BackendID returns the CLI-assigned session id, empty until the first frame
// arrives.
func (s *session) BackendID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendID
}

// control writes a control_request frame with a fresh request id.
func (s *session) control(req ControlRequest) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return adapter.ErrSessionClosed
	}

	data, err := json.Marshal(Frame{
		Type:      FrameControlRequest,
		RequestID: uuid.NewString(),
		Request:   &req,
	})
	if err != nil {
		return adapter.NewBackendError(adapter.ErrProtocol, "control", err)
	}
	return s.sock.WriteFrame(data)
}

// Interrupt aborts the in-flight turn.
func (s *session) Interrupt(ctx context.Context) error {
	return s.control(ControlRequest{Subtype: SubtypeInterrupt})
}

// SetModel switches the CLI's active model.
func (s *session) SetModel(ctx context.Context, model string) error {
	return s.control(ControlRequest{Subtype: SubtypeSetModel, Model: model})
}

// SetPermissionMode switches the CLI's permission mode.
func (s *session) SetPermissionMode(ctx context.Context, mode string) error {
	return s.control(ControlRequest{Subtype: SubtypeSetPermissionMode, Mode: mode})
}

// RespondPermission acknowledges a can_use_tool control request.
func (s *session) RespondPermission(ctx context.Context, resp types.PermissionResponse) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return adapter.ErrSessionClosed
	}

	body := map[string]any{"behavior": string(resp.Behavior)}
	if resp.UpdatedInput != nil {
		body["updatedInput"] = resp.UpdatedInput
	}
	if len(resp.UpdatedPermissions) > 0 {
		body["updatedPermissions"] = resp.UpdatedPermissions
	}
	if resp.Behavior == types.PermissionDeny && resp.Message != "" {
		body["message"] = resp.Message
	}

	data, err := json.Marshal(Frame{
		Type: FrameControlResponse,
		Response: &ControlResponseBody{
			Subtype:   "success",
			RequestID: resp.RequestID,
			Response:  body,
		},
	})
	if err != nil {
		return adapter.NewBackendError(adapter.ErrProtocol, "respond_permission", err)
	}
	s.log.Debug().Str("requestId", resp.RequestID).Str("behavior", string(resp.Behavior)).Msg("permission decision sent")
	return s.sock.WriteFrame(data)
}

var (
	_ adapter.BackendSession    = (*session)(nil)
	_ adapter.Interruptible     = (*session)(nil)
	_ adapter.Configurable      = (*session)(nil)
	_ adapter.PermissionHandler = (*session)(nil)
	_ adapter.BackendSessionID  = (*session)(nil)
)
