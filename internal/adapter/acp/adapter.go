// Package acp implements the generic ACP adapter: a subprocess agent spoken
// to with newline-framed JSON-RPC 2.0 over stdio.
package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/jsonrpc"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/pkg/types"
)

// AdapterName is the registry name of the generic ACP adapter.
const AdapterName = "acp"

// protocolVersion is the ACP protocol revision this adapter negotiates.
const protocolVersion = 1

// Classifier maps a backend error onto the unified error taxonomy. Variants
// like Gemini install their own.
type Classifier func(err error) adapter.ErrorKind

// Config parameterizes the subprocess and protocol behavior.
type Config struct {
	// Name overrides the adapter name for protocol variants.
	Name string
	// Command is the agent argv. Required.
	Command []string
	// Env is extra environment, KEY=VALUE form.
	Env []string
	// CallTimeout bounds JSON-RPC request correlation (minimum 60 s).
	CallTimeout time.Duration
	// Classify overrides error classification.
	Classify Classifier
}

// Adapter launches one agent subprocess per session.
type Adapter struct {
	cfg Config
}

// New creates an ACP adapter.
func New(cfg Config) *Adapter {
	if cfg.Name == "" {
		cfg.Name = AdapterName
	}
	if cfg.Classify == nil {
		cfg.Classify = func(error) adapter.ErrorKind { return adapter.ErrAPIError }
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:    true,
		Permissions:  true,
		Availability: adapter.AvailabilityLocal,
	}
}

// Connect spawns the agent, performs initialize and session/new (or
// session/load for resume), and wires the update stream.
func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	if len(a.cfg.Command) == 0 {
		return nil, adapter.NewBackendError(adapter.ErrProcess, "connect", fmt.Errorf("adapter %s has no command configured", a.cfg.Name))
	}

	cmd := exec.Command(a.cfg.Command[0], a.cfg.Command[1:]...)
	cmd.Dir = opts.Cwd
	cmd.Env = append(os.Environ(), a.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, adapter.NewBackendError(adapter.ErrProcess, "connect", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, adapter.NewBackendError(adapter.ErrProcess, "connect", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, adapter.NewBackendError(adapter.ErrProcess, "connect", err)
	}

	s := &session{
		cfg:     a.cfg,
		cmd:     cmd,
		outbox:  adapter.NewOutbox(0),
		pending: make(map[string]chan types.PermissionResponse),
		log:     logging.Component("adapter." + a.cfg.Name).With().Str("sessionId", opts.SessionID).Logger(),
	}
	s.conn = jsonrpc.NewConn(stdout, stdin, s, a.cfg.CallTimeout)

	if err := s.handshake(ctx, opts); err != nil {
		s.Close()
		return nil, err
	}

	// The stream ends when the subprocess closes stdout.
	go func() {
		<-s.conn.Done()
		s.outbox.Finish()
	}()

	return s, nil
}

type session struct {
	cfg    Config
	cmd    *exec.Cmd
	conn   *jsonrpc.Conn
	outbox *adapter.Outbox
	log    zerolog.Logger

	mu        sync.Mutex
	backendID string
	closed    bool
	pending   map[string]chan types.PermissionResponse
}

func (s *session) handshake(ctx context.Context, opts adapter.ConnectOptions) error {
	var initResult struct {
		ProtocolVersion int `json:"protocolVersion"`
	}
	err := s.conn.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{"readTextFile": false, "writeTextFile": false},
		},
	}, &initResult)
	if err != nil {
		return adapter.NewBackendError(s.cfg.Classify(err), "initialize", err)
	}

	var sessResult struct {
		SessionID string `json:"sessionId"`
	}
	if opts.Resume != "" {
		err = s.conn.Call(ctx, "session/load", map[string]any{
			"sessionId":  opts.Resume,
			"cwd":        opts.Cwd,
			"mcpServers": []any{},
		}, &sessResult)
		if sessResult.SessionID == "" {
			sessResult.SessionID = opts.Resume
		}
	} else {
		err = s.conn.Call(ctx, "session/new", map[string]any{
			"cwd":        opts.Cwd,
			"mcpServers": []any{},
		}, &sessResult)
	}
	if err != nil {
		return adapter.NewBackendError(s.cfg.Classify(err), "session", err)
	}

	s.mu.Lock()
	s.backendID = sessResult.SessionID
	s.mu.Unlock()
	return nil
}

// OnNotification handles session/update streams from the agent.
func (s *session) OnNotification(method string, params json.RawMessage) {
	if method != "session/update" {
		s.log.Debug().Str("method", method).Msg("unhandled notification")
		return
	}
	for _, msg := range TranslateUpdate(params) {
		s.outbox.Emit(msg)
	}
}

// OnRequest handles agent-initiated requests, notably permission prompts.
func (s *session) OnRequest(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if method != "session/request_permission" {
		return nil, fmt.Errorf("unsupported request: %s", method)
	}

	var req permissionParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	ch := make(chan types.PermissionResponse, 1)
	s.mu.Lock()
	s.pending[requestID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
	}()

	msg := types.UnifiedMessage{
		Type: types.MessageTypePermissionRequest,
		Role: types.RoleSystem,
	}
	msg.SetMeta(types.MetaRequestID, requestID)
	msg.SetMeta("tool_name", req.ToolCall.Title)
	msg.SetMeta("input", req.ToolCall.RawInput)
	s.outbox.Emit(msg)

	select {
	case resp := <-ch:
		return permissionOutcome(req, resp), nil
	case <-ctx.Done():
		return map[string]any{"outcome": map[string]any{"outcome": "cancelled"}}, nil
	}
}

// RespondPermission resolves a pending agent permission request.
func (s *session) RespondPermission(ctx context.Context, resp types.PermissionResponse) error {
	s.mu.Lock()
	ch, ok := s.pending[resp.RequestID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending permission request %s", resp.RequestID)
	}
	ch <- resp
	return nil
}

// Send runs one prompt turn. The session/prompt response arrives when the
// turn ends, so the call is detached and its resolution is emitted as a
// result message.
func (s *session) Send(ctx context.Context, msg types.UnifiedMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return adapter.ErrSessionClosed
	}
	backendID := s.backendID
	s.mu.Unlock()

	if msg.Type != types.MessageTypeUser {
		return nil
	}

	go func() {
		var result struct {
			StopReason string `json:"stopReason"`
		}
		err := s.conn.Call(context.Background(), "session/prompt", map[string]any{
			"sessionId": backendID,
			"prompt":    promptBlocks(msg),
		}, &result)
		if err != nil {
			kind := s.cfg.Classify(err)
			errMsg := types.UnifiedMessage{Type: types.MessageTypeError, Role: types.RoleSystem}
			errMsg.SetMeta(types.MetaErrorCode, string(kind))
			errMsg.SetMeta("error", err.Error())
			s.outbox.Emit(errMsg)
			return
		}

		res := types.UnifiedMessage{Type: types.MessageTypeResult, Role: types.RoleSystem}
		res.SetMeta(types.MetaSubtype, result.StopReason)
		res.SetMeta(types.MetaSessionID, backendID)
		s.outbox.Emit(res)
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

	s.outbox.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	go func() {
		_ = s.cmd.Wait()
		s.outbox.Finish()
	}()
	return nil
}

// Interrupt cancels the in-flight turn via session/cancel.
func (s *session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	backendID := s.backendID
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return adapter.ErrSessionClosed
	}
	return s.conn.Notify("session/cancel", map[string]any{"sessionId": backendID})
}

// BackendID returns the agent-assigned session id.
func (s *session) BackendID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendID
}

var (
	_ adapter.BackendSession    = (*session)(nil)
	_ adapter.Interruptible     = (*session)(nil)
	_ adapter.PermissionHandler = (*session)(nil)
	_ adapter.BackendSessionID  = (*session)(nil)
)
