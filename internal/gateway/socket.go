package gateway

import (
	"bytes"
	"context"
	"sync"

	"nhooyr.io/websocket"

	"github.com/teng-lin/beamcode/internal/logging"
)

// frameBufferSize bounds in-flight frames after a subscriber attaches.
const frameBufferSize = 256

// preSubscribeLimit bounds frames held before the adapter subscribes. Kept
// below frameBufferSize so the replay can never fill the frame channel while
// the registry lock is held.
const preSubscribeLimit = 128

// CLISocket wraps one inverted CLI WebSocket connection. Its read pump starts
// immediately on accept so frames the CLI sends before the adapter subscribes
// are not lost; Subscribe replays them exactly once and then streams live.
type CLISocket struct {
	SessionID string

	conn *websocket.Conn
	ctx  context.Context

	mu         sync.Mutex
	buffered   [][]byte
	subscribed bool
	frames     chan []byte
	framesOnce sync.Once

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// newCLISocket wraps conn and starts the read pump.
func newCLISocket(ctx context.Context, sessionID string, conn *websocket.Conn) *CLISocket {
	s := &CLISocket{
		SessionID: sessionID,
		conn:      conn,
		ctx:       ctx,
		frames:    make(chan []byte, frameBufferSize),
		closed:    make(chan struct{}),
	}
	go s.readPump()
	return s
}

func (s *CLISocket) readPump() {
	defer func() {
		s.mu.Lock()
		subscribed := s.subscribed
		s.mu.Unlock()
		if subscribed {
			s.framesOnce.Do(func() { close(s.frames) })
		}
		s.Close()
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway &&
				s.ctx.Err() == nil {
				logging.Debug().Err(err).Str("sessionId", s.SessionID).Msg("cli socket read ended")
			}
			return
		}

		// NDJSON: a frame may carry several newline-separated objects.
		for _, line := range bytes.Split(data, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			s.deliver(line)
		}
	}
}

func (s *CLISocket) deliver(line []byte) {
	s.mu.Lock()
	if !s.subscribed {
		if len(s.buffered) >= preSubscribeLimit {
			s.buffered = s.buffered[1:]
			logging.Warn().Str("sessionId", s.SessionID).Msg("pre-subscribe frame buffer full, dropping oldest")
		}
		s.buffered = append(s.buffered, line)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.frames <- line:
	case <-s.closed:
	}
}

// Subscribe returns the frame stream, first replaying any frames received
// before the subscriber attached. Subsequent calls return the same channel
// without replaying.
func (s *CLISocket) Subscribe() <-chan []byte {
	s.mu.Lock()
	if !s.subscribed {
		s.subscribed = true
		for _, line := range s.buffered {
			// Replay fits: preSubscribeLimit < frameBufferSize.
			s.frames <- line
		}
		s.buffered = nil

		select {
		case <-s.closed:
			// Pump already exited before anyone subscribed; it will not
			// close the channel, so do it here after the replay.
			s.framesOnce.Do(func() { close(s.frames) })
		default:
		}
	}
	s.mu.Unlock()
	return s.frames
}

// WriteFrame sends one NDJSON line to the CLI.
func (s *CLISocket) WriteFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return context.Canceled
	default:
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// Close shuts the socket down. Idempotent.
func (s *CLISocket) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close(websocket.StatusNormalClosure, "")
	})
}

// Closed is closed once the socket is shut down.
func (s *CLISocket) Closed() <-chan struct{} { return s.closed }
