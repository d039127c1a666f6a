package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teng-lin/beamcode/internal/storage"
	"github.com/teng-lin/beamcode/pkg/types"
)

func newFileRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRepository(NewFileStorage(storage.New(dir))), dir
}

func TestRepositoryInsertGetRemove(t *testing.T) {
	repo, _ := newFileRepo(t)

	s := NewSession(types.SessionInfo{ID: "s1", AdapterName: "claude"}, 0)
	repo.Insert(s)

	got, ok := repo.Get("s1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, repo.Len())

	repo.Remove("s1")
	_, ok = repo.Get("s1")
	assert.False(t, ok)
}

func TestRepositoryPersistsAndRestores(t *testing.T) {
	repo, dir := newFileRepo(t)

	s := NewSession(types.SessionInfo{ID: "s1", AdapterName: "claude", Cwd: "/w"}, 0)
	s.state = StateIdle
	s.history.Push(types.UnifiedMessage{ID: "msg_00000001", Type: types.MessageTypeUser})
	s.queue.Enqueue("c1", "held message")
	repo.Insert(s)

	// A second repository over the same directory sees the session.
	repo2 := NewRepository(NewFileStorage(storage.New(dir)))
	restored := repo2.Restore(context.Background(), 0)
	require.Len(t, restored, 1)

	got := restored[0]
	assert.Equal(t, "s1", got.ID())
	assert.Equal(t, StateDegraded, got.State())
	assert.Equal(t, 1, got.history.Len())
	assert.Equal(t, 1, got.queue.Len())
}

func TestRestoreSkipsClosedAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := storage.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, []string{"sessions", "closed"}, PersistedSession{
		ID: "closed", State: string(StateClosed),
		Info:          types.SessionInfo{ID: "closed"},
		SchemaVersion: types.CurrentSchemaVersion,
	}))
	require.NoError(t, store.Put(ctx, []string{"sessions", "live"}, PersistedSession{
		ID: "live", State: string(StateIdle),
		Info:          types.SessionInfo{ID: "live"},
		SchemaVersion: types.CurrentSchemaVersion,
	}))
	// Future schema version: discarded as corrupt.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions", "future.json"),
		[]byte(`{"id":"future","state":"idle","schemaVersion":99}`), 0644))

	repo := NewRepository(NewFileStorage(storage.New(dir)))
	restored := repo.Restore(ctx, 0)
	require.Len(t, restored, 1)
	assert.Equal(t, "live", restored[0].ID())
}

func TestRepositoryWithoutStorage(t *testing.T) {
	repo := NewRepository(nil)
	s := NewSession(types.SessionInfo{ID: "s1"}, 0)
	repo.Insert(s)
	repo.Persist(s)
	assert.Empty(t, repo.Restore(context.Background(), 0))
}

func TestFileStorageRoundTrip(t *testing.T) {
	fs := NewFileStorage(storage.New(t.TempDir()))
	ctx := context.Background()

	ps := PersistedSession{
		ID: "s9", State: string(StateIdle),
		Info:          types.SessionInfo{ID: "s9"},
		SchemaVersion: types.CurrentSchemaVersion,
	}
	require.NoError(t, fs.Save(ctx, ps))

	raw, err := fs.Load(ctx, "s9")
	require.NoError(t, err)
	var got PersistedSession
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, ps.ID, got.ID)

	all, err := fs.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, fs.Delete(ctx, "s9"))
	_, err = fs.Load(ctx, "s9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
