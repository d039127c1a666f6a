// Package opencodecli implements the opencode adapter. Prompts go out as
// HTTP posts against a local opencode server; replies stream back in over
// text/event-stream.
package opencodecli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/pkg/types"
)

// AdapterName is the registry name of this adapter.
const AdapterName = "opencode"

// Config parameterizes the adapter.
type Config struct {
	// BaseURL of the opencode server, e.g. http://127.0.0.1:4096.
	BaseURL string
	// Model in provider/model form, forwarded with each prompt.
	Model string
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Adapter speaks the opencode server API.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New creates the adapter.
func New(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		client = &http.Client{} // no timeout: the SSE stream is long-lived
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return AdapterName }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: true,
		Availability:  adapter.AvailabilityLocal,
	}
}

// Connect creates (or resumes) a server-side session and attaches the event
// stream.
func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	if a.cfg.BaseURL == "" {
		return nil, adapter.NewBackendError(adapter.ErrProcess, "connect", fmt.Errorf("opencode adapter has no baseURL configured"))
	}
	base := strings.TrimRight(a.cfg.BaseURL, "/")

	backendID := opts.Resume
	if backendID == "" {
		id, err := a.createSession(ctx, base, opts.Cwd)
		if err != nil {
			return nil, err
		}
		backendID = id
	}

	s := &session{
		client:    a.client,
		base:      base,
		model:     a.cfg.Model,
		backendID: backendID,
		outbox:    adapter.NewOutbox(0),
		log:       logging.Component("adapter.opencode").With().Str("sessionId", opts.SessionID).Logger(),
	}
	if err := s.attachStream(); err != nil {
		return nil, err
	}
	return s, nil
}

// attachStream opens the event stream and starts its pump.
func (s *session) attachStream() error {
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := s.openEventStream(streamCtx)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.readPump(streamCtx, stream, gen)
	return nil
}

func (a *Adapter) createSession(ctx context.Context, base, cwd string) (string, error) {
	body, _ := json.Marshal(map[string]any{"directory": cwd})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/session", bytes.NewReader(body))
	if err != nil {
		return "", adapter.NewBackendError(adapter.ErrProtocol, "create_session", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", adapter.NewBackendError(adapter.ErrProcess, "create_session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", adapter.NewBackendError(classifyStatus(resp.StatusCode), "create_session",
			fmt.Errorf("server returned %d", resp.StatusCode))
	}

	var sess struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", adapter.NewBackendError(adapter.ErrProtocol, "create_session", err)
	}
	if sess.ID == "" {
		return "", adapter.NewBackendError(adapter.ErrProtocol, "create_session", fmt.Errorf("server returned no session id"))
	}
	return sess.ID, nil
}

func classifyStatus(code int) adapter.ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return adapter.ErrProviderAuth
	case code == http.StatusTooManyRequests:
		return adapter.ErrRateLimit
	case code == http.StatusRequestEntityTooLarge:
		return adapter.ErrContextOverflow
	default:
		return adapter.ErrAPIError
	}
}

type session struct {
	client    *http.Client
	base      string
	model     string
	backendID string
	outbox    *adapter.Outbox
	cancel    context.CancelFunc
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool
	gen    int
}

func (s *session) openEventStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/event", nil)
	if err != nil {
		return nil, adapter.NewBackendError(adapter.ErrProtocol, "event_stream", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, adapter.NewBackendError(adapter.ErrProcess, "event_stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, adapter.NewBackendError(classifyStatus(resp.StatusCode), "event_stream",
			fmt.Errorf("server returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func (s *session) readPump(ctx context.Context, stream io.ReadCloser, gen int) {
	defer func() {
		stream.Close()
		// Only the latest pump may end the message stream; a pump that a
		// reconnect superseded exits quietly.
		s.mu.Lock()
		latest := gen == s.gen
		s.mu.Unlock()
		if latest {
			s.outbox.Finish()
		}
	}()

	reader := NewEventReader(stream)
	for {
		ev, err := reader.Next()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("event stream ended")
			}
			return
		}
		for _, msg := range Translate(ev, s.backendID) {
			s.outbox.Emit(msg)
		}
		select {
		case <-s.outbox.Done():
			return
		default:
		}
	}
}

// Send posts one prompt. The server answers over the event stream; the post
// response body streams progress and is drained in the background.
func (s *session) Send(ctx context.Context, msg types.UnifiedMessage) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return adapter.ErrSessionClosed
	}
	if msg.Type != types.MessageTypeUser {
		return nil
	}

	payload := map[string]any{"parts": messageParts(msg)}
	if s.model != "" {
		payload["model"] = s.model
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/session/%s/message", s.base, s.backendID), bytes.NewReader(body))
	if err != nil {
		return adapter.NewBackendError(adapter.ErrProtocol, "send", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return adapter.NewBackendError(adapter.ErrProcess, "send", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		resp.Body.Close()
		return adapter.NewBackendError(classifyStatus(resp.StatusCode), "send",
			fmt.Errorf("server returned %d", resp.StatusCode))
	}

	go func() {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}()
	return nil
}

func messageParts(msg types.UnifiedMessage) []map[string]any {
	var parts []map[string]any
	for _, b := range msg.Content {
		if b.Type == types.BlockTypeText {
			parts = append(parts, map[string]any{"type": "text", "text": b.Text})
		}
	}
	return parts
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
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Reconnect re-opens the event stream in place after a drop.
func (s *session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return adapter.ErrSessionClosed
	}
	return s.attachStream()
}

// Interrupt aborts the in-flight turn server-side.
func (s *session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return adapter.ErrSessionClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/session/%s/abort", s.base, s.backendID), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return adapter.NewBackendError(adapter.ErrProcess, "interrupt", err)
	}
	resp.Body.Close()
	return nil
}

// BackendID returns the server-assigned session id.
func (s *session) BackendID() string { return s.backendID }

var (
	_ adapter.BackendSession   = (*session)(nil)
	_ adapter.Interruptible    = (*session)(nil)
	_ adapter.Reconnectable    = (*session)(nil)
	_ adapter.BackendSessionID = (*session)(nil)
)
