package session

import (
	"encoding/json"
	"fmt"

	"github.com/teng-lin/beamcode/pkg/types"
)

// PersistedSession is the on-disk shape of a session.
type PersistedSession struct {
	ID                 string                    `json:"id"`
	State              string                    `json:"state"`
	Info               types.SessionInfo         `json:"info"`
	MessageHistory     []types.UnifiedMessage    `json:"messageHistory"`
	PendingMessages    []types.QueuedMessage     `json:"pendingMessages"`
	PendingPermissions []types.PermissionRequest `json:"pendingPermissions"`
	SchemaVersion      int                       `json:"schemaVersion"`
}

// MigrateSession parses a raw persisted record and migrates it to the
// current schema. It is total: anything unusable (non-object input, missing
// id or state, a schema version from the future) comes back nil rather than
// as an error.
func MigrateSession(raw json.RawMessage) *PersistedSession {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}

	var ps PersistedSession
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil
	}
	if ps.ID == "" || ps.State == "" {
		return nil
	}
	if ps.SchemaVersion > types.CurrentSchemaVersion {
		// A future daemon wrote this; treat as corrupt.
		return nil
	}

	// v0: unversioned records predate history and pending tracking.
	if ps.MessageHistory == nil {
		ps.MessageHistory = []types.UnifiedMessage{}
	}
	if ps.PendingMessages == nil {
		ps.PendingMessages = []types.QueuedMessage{}
	}
	if ps.PendingPermissions == nil {
		ps.PendingPermissions = []types.PermissionRequest{}
	}

	// v1 -> v2: the info envelope became mandatory; synthesize one from the
	// top-level fields when absent.
	if ps.Info.ID == "" {
		ps.Info.ID = ps.ID
		ps.Info.LastState = ps.State
	}

	if !State(ps.State).Valid() {
		return nil
	}

	ps.SchemaVersion = types.CurrentSchemaVersion
	return &ps
}

// snapshot captures a session for persistence.
func snapshot(s *Session) PersistedSession {
	s.mu.RLock()
	info := s.info
	state := s.state
	s.mu.RUnlock()

	pending := make([]types.PermissionRequest, 0, len(s.pendingPermissions))
	for _, p := range s.pendingPermissions {
		pending = append(pending, p)
	}

	return PersistedSession{
		ID:                 info.ID,
		State:              string(state),
		Info:               info,
		MessageHistory:     s.history.ToArray(),
		PendingMessages:    s.queue.Items(),
		PendingPermissions: pending,
		SchemaVersion:      types.CurrentSchemaVersion,
	}
}

// RestoreSession rebuilds a session from a migrated record. Sessions that
// were live when the daemon stopped come back degraded so the reconnect
// machinery can re-establish them.
func RestoreSession(ps *PersistedSession, historySize int) *Session {
	s := NewSession(ps.Info, historySize)

	restored := State(ps.State)
	switch restored {
	case StateClosed, StateClosing:
		restored = StateClosed
	case StateStarting:
		// Never reached a backend; a relaunch starts from scratch.
	default:
		restored = StateDegraded
	}
	s.state = restored
	s.info.LastState = string(restored)

	for _, msg := range ps.MessageHistory {
		s.history.Push(msg)
	}
	// Keep allocating above the highest restored id.
	if n := len(ps.MessageHistory); n > 0 {
		var last uint64
		if _, err := fmt.Sscanf(ps.MessageHistory[n-1].ID, "msg_%d", &last); err == nil {
			s.nextMsgID = last
		}
	}
	s.queue.Restore(ps.PendingMessages)
	for _, p := range ps.PendingPermissions {
		s.pendingPermissions[p.RequestID] = p
	}
	return s
}
