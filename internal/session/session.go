package session

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/teng-lin/beamcode/internal/ring"
	"github.com/teng-lin/beamcode/pkg/types"
)

// DefaultHistorySize is the per-session history ring capacity.
const DefaultHistorySize = 500

// NewID generates an externally visible session id.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Session is one live conversation. The runtime goroutine owns everything
// except the metadata snapshot, which HTTP handlers read through the mutex.
type Session struct {
	mu           sync.RWMutex
	info         types.SessionInfo
	state        State
	lastActivity time.Time

	// Owned by the runtime goroutine; no locking.
	history            *ring.Buffer[types.UnifiedMessage]
	queue              *OutQueue
	pendingPermissions map[string]types.PermissionRequest
	team               *types.TeamState
	pendingSlash       *pendingPassthrough
	nextMsgID          uint64
}

// pendingPassthrough marks the next assistant reply as a slash result.
type pendingPassthrough struct {
	RequestID string
	Command   string
}

// NewSession creates a session in the starting state.
func NewSession(info types.SessionInfo, historySize int) *Session {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}
	info.LastState = string(StateStarting)
	return &Session{
		info:               info,
		state:              StateStarting,
		lastActivity:       time.Now(),
		history:            ring.New[types.UnifiedMessage](historySize),
		queue:              NewOutQueue(),
		pendingPermissions: make(map[string]types.PermissionRequest),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.ID
}

// Info returns a metadata snapshot.
func (s *Session) Info() types.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActivity returns the most recent traffic instant.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Touch records activity now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// setState records a transition that was already validated.
func (s *Session) setState(to State) {
	s.mu.Lock()
	s.state = to
	s.info.LastState = string(to)
	s.mu.Unlock()
}

// SetArchived flips the archive flag.
func (s *Session) SetArchived(archived bool) {
	s.mu.Lock()
	s.info.Archived = archived
	s.mu.Unlock()
}

// updateInfo applies fn to the metadata snapshot.
func (s *Session) updateInfo(fn func(info *types.SessionInfo)) {
	s.mu.Lock()
	fn(&s.info)
	s.mu.Unlock()
}

// nextMessageID allocates the next history message id. Ids sort in
// allocation order.
func (s *Session) nextMessageID() string {
	s.nextMsgID++
	return fmt.Sprintf("msg_%08d", s.nextMsgID)
}
