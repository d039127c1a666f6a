package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/internal/storage"
)

// SessionStorage is the durability contract the repository persists through.
type SessionStorage interface {
	Save(ctx context.Context, ps PersistedSession) error
	Load(ctx context.Context, id string) (json.RawMessage, error)
	LoadAll(ctx context.Context) ([]json.RawMessage, error)
	Delete(ctx context.Context, id string) error
}

// FileStorage persists sessions as JSON files through internal/storage.
type FileStorage struct {
	store *storage.Storage
}

// NewFileStorage wraps a storage root.
func NewFileStorage(store *storage.Storage) *FileStorage {
	return &FileStorage{store: store}
}

func (f *FileStorage) Save(ctx context.Context, ps PersistedSession) error {
	return f.store.Put(ctx, []string{"sessions", ps.ID}, ps)
}

func (f *FileStorage) Load(ctx context.Context, id string) (json.RawMessage, error) {
	return f.store.GetRaw(ctx, []string{"sessions", id})
}

func (f *FileStorage) LoadAll(ctx context.Context) ([]json.RawMessage, error) {
	ids, err := f.store.List(ctx, []string{"sessions"})
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	for _, id := range ids {
		raw, err := f.store.GetRaw(ctx, []string{"sessions", id})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (f *FileStorage) Delete(ctx context.Context, id string) error {
	return f.store.Delete(ctx, []string{"sessions", id})
}

// Repository is the daemon's session lookup table: an in-memory map with a
// pluggable storage behind it. Storage failures are logged and the session
// continues in memory.
type Repository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	storage  SessionStorage
}

// NewRepository creates a repository. storage may be nil for ephemeral use.
func NewRepository(store SessionStorage) *Repository {
	return &Repository{
		sessions: make(map[string]*Session),
		storage:  store,
	}
}

// Insert adds a session and persists it.
func (r *Repository) Insert(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	r.Persist(s)
}

// Get looks a session up by id.
func (r *Repository) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session from the map and from storage.
func (r *Repository) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	if r.storage != nil {
		if err := r.storage.Delete(context.Background(), id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logging.Warn().Err(err).Str("sessionId", id).Msg("session delete from storage failed")
		}
	}
}

// All returns the live sessions.
func (r *Repository) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Persist writes a session snapshot. Failures are logged, never fatal.
func (r *Repository) Persist(s *Session) {
	if r.storage == nil {
		return
	}
	if err := r.storage.Save(context.Background(), snapshot(s)); err != nil {
		logging.Warn().Err(err).Str("sessionId", s.ID()).Msg("session persist failed")
	}
}

// Restore loads, migrates, and registers every persisted session. Records
// that fail migration are dropped; closed sessions are skipped.
func (r *Repository) Restore(ctx context.Context, historySize int) []*Session {
	if r.storage == nil {
		return nil
	}

	raws, err := r.storage.LoadAll(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("session restore failed")
		return nil
	}

	var restored []*Session
	for _, raw := range raws {
		ps := MigrateSession(raw)
		if ps == nil {
			logging.Warn().Msg("discarding unmigratable session record")
			continue
		}
		if State(ps.State) == StateClosed || State(ps.State) == StateClosing {
			continue
		}
		s := RestoreSession(ps, historySize)
		r.mu.Lock()
		r.sessions[s.ID()] = s
		r.mu.Unlock()
		restored = append(restored, s)
	}
	return restored
}
