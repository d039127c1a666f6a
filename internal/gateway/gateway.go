package gateway

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/teng-lin/beamcode/internal/logging"
)

// SessionChecker reports whether a declared session id may attach a CLI
// socket. The bridge supplies this; it accepts sessions that are starting or
// waiting on a reconnect.
type SessionChecker func(sessionID string) bool

// Gateway terminates inverted CLI WebSocket connections and routes each
// socket to the adapter awaiting it.
type Gateway struct {
	registry *SocketRegistry
	check    SessionChecker
}

// New creates a Gateway over the given registry.
func New(registry *SocketRegistry, check SessionChecker) *Gateway {
	return &Gateway{registry: registry, check: check}
}

// Registry returns the gateway's socket registry.
func (g *Gateway) Registry() *SocketRegistry { return g.registry }

// ServeHTTP upgrades the connection, validates the declared session id, and
// delivers the socket. A socket that cannot be matched is closed immediately.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	// A late socket for a session the policy already relaunched still has a
	// waiter under the same id, so it supersedes the relaunch rather than
	// being rejected.
	if g.check != nil && !g.check(sessionID) && !g.registry.Waiting(sessionID) {
		logging.Warn().Str("sessionId", sessionID).Msg("cli dialed for unknown session")
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local daemon, CLI dials loopback
	})
	if err != nil {
		logging.Error().Err(err).Str("sessionId", sessionID).Msg("cli websocket accept failed")
		return
	}

	sock := newCLISocket(context.Background(), sessionID, conn)

	if !g.registry.Deliver(sessionID, sock) {
		logging.Warn().Str("sessionId", sessionID).Msg("no adapter waiting for cli socket")
		sock.Close()
		return
	}

	logging.Info().Str("sessionId", sessionID).Msg("cli socket delivered")
}
