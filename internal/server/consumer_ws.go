package server

import (
	"context"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/pkg/types"
)

// wsSink adapts a consumer WebSocket to the broadcaster's sink contract.
type wsSink struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *wsSink) WriteMessage(msg types.UnifiedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *wsSink) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// consumerWS attaches a consumer to a session over WebSocket.
func (s *Server) consumerWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "missing session query parameter")
		return
	}
	if _, ok := s.bridge.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}

	identity, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local daemon
	})
	if err != nil {
		logging.Error().Err(err).Msg("consumer websocket accept failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &wsSink{conn: conn, ctx: ctx, cancel: cancel}

	if err := s.bridge.AttachConsumer(sessionID, identity.ConsumerID, identity, sink); err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		cancel()
		return
	}

	log := logging.Component("consumer").With().
		Str("sessionId", sessionID).
		Str("consumerId", identity.ConsumerID).
		Logger()
	log.Info().Msg("consumer attached")

	defer func() {
		s.bridge.DetachConsumer(sessionID, identity.ConsumerID)
		log.Info().Msg("consumer detached")
	}()

	// Read loop: inbound commands are processed in receipt order.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd types.ConsumerCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().Err(err).Msg("dropping malformed consumer frame")
			continue
		}
		if err := s.bridge.IngestInbound(sessionID, identity.ConsumerID, cmd); err != nil {
			return
		}
	}
}
