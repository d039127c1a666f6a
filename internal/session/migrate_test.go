package session

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teng-lin/beamcode/pkg/types"
)

func TestMigrateRejectsGarbage(t *testing.T) {
	cases := []string{
		`"just a string"`,
		`42`,
		`[1,2,3]`,
		`null`,
		`{}`,
		`{"id":"s1"}`,
		`{"state":"active"}`,
		`{"id":"s1","state":"interdimensional"}`,
		fmt.Sprintf(`{"id":"s1","state":"active","schemaVersion":%d}`, types.CurrentSchemaVersion+1),
	}
	for _, raw := range cases {
		assert.Nil(t, MigrateSession(json.RawMessage(raw)), "input %s must be discarded", raw)
	}
}

func TestMigrateV0GainsDefaults(t *testing.T) {
	ps := MigrateSession(json.RawMessage(`{"id":"s1","state":"idle"}`))
	require.NotNil(t, ps)

	assert.Equal(t, types.CurrentSchemaVersion, ps.SchemaVersion)
	assert.NotNil(t, ps.MessageHistory)
	assert.NotNil(t, ps.PendingMessages)
	assert.NotNil(t, ps.PendingPermissions)
	assert.Equal(t, "s1", ps.Info.ID, "info envelope synthesized from top-level fields")
}

func TestMigrateCurrentVersionPassesThrough(t *testing.T) {
	orig := PersistedSession{
		ID:    "s2",
		State: string(StateIdle),
		Info:  types.SessionInfo{ID: "s2", AdapterName: "claude", Cwd: "/w"},
		MessageHistory: []types.UnifiedMessage{
			{ID: "msg_00000001", Type: types.MessageTypeUser},
		},
		PendingMessages:    []types.QueuedMessage{{ID: "q_1", AuthorID: "c1", Content: "held"}},
		PendingPermissions: []types.PermissionRequest{{RequestID: "req-1", ToolName: "bash"}},
		SchemaVersion:      types.CurrentSchemaVersion,
	}
	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	ps := MigrateSession(raw)
	require.NotNil(t, ps)
	assert.Equal(t, orig.ID, ps.ID)
	assert.Len(t, ps.MessageHistory, 1)
	assert.Len(t, ps.PendingMessages, 1)
	assert.Len(t, ps.PendingPermissions, 1)
}

func TestRestoreSessionComesBackDegraded(t *testing.T) {
	ps := &PersistedSession{
		ID:    "s3",
		State: string(StateActive),
		Info:  types.SessionInfo{ID: "s3", AdapterName: "claude"},
		MessageHistory: []types.UnifiedMessage{
			{ID: "msg_00000007", Type: types.MessageTypeAssistant},
		},
		PendingMessages:    []types.QueuedMessage{{ID: "q_1", AuthorID: "c1", Content: "held"}},
		PendingPermissions: []types.PermissionRequest{{RequestID: "req-1"}},
		SchemaVersion:      types.CurrentSchemaVersion,
	}

	s := RestoreSession(ps, 0)
	assert.Equal(t, StateDegraded, s.State(), "live sessions restore as degraded")
	assert.Equal(t, 1, s.history.Len())
	assert.Equal(t, 1, s.queue.Len())
	assert.Contains(t, s.pendingPermissions, "req-1")

	// New ids keep counting above the restored tail.
	assert.Equal(t, "msg_00000008", s.nextMessageID())
}

func TestRestoreStartingStaysStarting(t *testing.T) {
	ps := &PersistedSession{
		ID:            "s4",
		State:         string(StateStarting),
		Info:          types.SessionInfo{ID: "s4"},
		SchemaVersion: types.CurrentSchemaVersion,
	}
	s := RestoreSession(ps, 0)
	assert.Equal(t, StateStarting, s.State())
}
