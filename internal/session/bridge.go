package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/internal/slashcmd"
	"github.com/teng-lin/beamcode/pkg/types"
)

// ProcessLauncher is the slice of the launcher the bridge drives. Only
// adapters whose CLI dials out need launching; the rest return false from
// Supports.
type ProcessLauncher interface {
	Supports(adapterName string) bool
	Launch(ctx context.Context, info types.SessionInfo) (pid int, err error)
	Kill(sessionID string)
	PID(sessionID string) (int, bool)
}

// BridgeConfig tunes bridge behavior.
type BridgeConfig struct {
	HistorySize    int
	ConnectTimeout time.Duration
	// AllowedTools maps adapter name to tool glob patterns pre-approved for
	// every session on that adapter.
	AllowedTools map[string][]string
}

// CreateRequest parameterizes session creation.
type CreateRequest struct {
	Cwd            string
	Model          string
	AdapterName    string
	PermissionMode string
	AdapterOptions map[string]any
}

// Bridge owns every session runtime in the daemon and is the single entry
// point policies and transports go through.
type Bridge struct {
	cfg      BridgeConfig
	repo     *Repository
	adapters *adapter.Registry
	bus      *event.Bus
	launcher ProcessLauncher
	chain    *slashcmd.Chain
	log      zerolog.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewBridge wires a bridge. launcher may be nil when no CLI adapters are
// configured.
func NewBridge(cfg BridgeConfig, repo *Repository, adapters *adapter.Registry, bus *event.Bus, launcher ProcessLauncher, chain *slashcmd.Chain) *Bridge {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 45 * time.Second
	}
	return &Bridge{
		cfg:      cfg,
		repo:     repo,
		adapters: adapters,
		bus:      bus,
		launcher: launcher,
		chain:    chain,
		log:      logging.Component("bridge"),
		runtimes: make(map[string]*Runtime),
	}
}

// CreateSession registers a new session and establishes its backend in the
// background.
func (b *Bridge) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	ad, ok := b.adapters.Get(req.AdapterName)
	if !ok {
		return nil, fmt.Errorf("unknown adapter: %s", req.AdapterName)
	}

	info := types.SessionInfo{
		ID:             NewID(),
		AdapterName:    req.AdapterName,
		Cwd:            req.Cwd,
		Model:          req.Model,
		PermissionMode: req.PermissionMode,
		AllowedTools:   b.cfg.AllowedTools[req.AdapterName],
		AdapterOptions: req.AdapterOptions,
	}

	sess := NewSession(info, b.cfg.HistorySize)
	b.repo.Insert(sess)

	rt := b.startRuntime(sess)
	b.bus.Publish(event.Event{Type: event.SessionCreated, SessionID: sess.ID()})

	go b.establish(ad, sess, rt, "", true)
	return sess, nil
}

// startRuntime creates and registers the runtime for a session.
func (b *Bridge) startRuntime(sess *Session) *Runtime {
	rt := NewRuntime(sess, RuntimeDeps{
		Bus:     b.bus,
		Chain:   b.chain,
		Persist: b.repo.Persist,
		OnClosed: func(id string) {
			b.mu.Lock()
			delete(b.runtimes, id)
			b.mu.Unlock()
			if b.launcher != nil {
				b.launcher.Kill(id)
			}
		},
	})

	b.mu.Lock()
	b.runtimes[sess.ID()] = rt
	b.mu.Unlock()
	return rt
}

// establish launches the CLI (when the adapter needs one) and connects the
// backend. For inverted-socket adapters Connect registers its waiter before
// any network wait, so launching right after is safe: the child's dial takes
// orders of magnitude longer than the goroutine handoff.
func (b *Bridge) establish(ad adapter.Adapter, sess *Session, rt *Runtime, resume string, launch bool) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ConnectTimeout)
	defer cancel()

	type connected struct {
		backend adapter.BackendSession
		err     error
	}
	res := make(chan connected, 1)
	go func() {
		backend, err := ad.Connect(ctx, adapter.ConnectOptions{
			SessionID:      sess.ID(),
			Cwd:            sess.Info().Cwd,
			Model:          sess.Info().Model,
			PermissionMode: sess.Info().PermissionMode,
			Resume:         resume,
			Options:        sess.Info().AdapterOptions,
		})
		res <- connected{backend, err}
	}()

	if launch && b.launcher != nil && b.launcher.Supports(ad.Name()) {
		pid, err := b.launcher.Launch(ctx, sess.Info())
		if err != nil {
			b.log.Error().Err(err).Str("sessionId", sess.ID()).Msg("cli launch failed")
			b.bus.Publish(event.Event{Type: event.BackendError, SessionID: sess.ID(), Data: string(adapter.ErrProcess)})
		} else {
			sess.updateInfo(func(info *types.SessionInfo) { info.PID = pid })
			b.bus.Publish(event.Event{Type: event.ProcessLaunched, SessionID: sess.ID(), Data: pid})
		}
	}

	c := <-res
	if c.err != nil {
		b.log.Error().Err(c.err).Str("sessionId", sess.ID()).Str("adapter", ad.Name()).Msg("backend connect failed")
		b.bus.Publish(event.Event{Type: event.BackendError, SessionID: sess.ID(), Data: string(adapter.KindOf(c.err))})
		return
	}

	rt.BindBackend(c.backend, ad.Capabilities())
}

// Runtime returns a session's runtime.
func (b *Bridge) Runtime(sessionID string) (*Runtime, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rt, ok := b.runtimes[sessionID]
	return rt, ok
}

// AttachConsumer attaches a consumer to a session, lazily re-establishing
// the backend of a restored session on first arrival.
func (b *Bridge) AttachConsumer(sessionID, consumerID string, identity types.Identity, sink ConsumerSink) error {
	sess, ok := b.repo.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	b.mu.Lock()
	rt, live := b.runtimes[sessionID]
	b.mu.Unlock()

	if !live {
		rt = b.startRuntime(sess)
		b.Reestablish(sessionID)
	}

	rt.AttachConsumer(consumerID, identity, sink)
	return nil
}

// DetachConsumer removes a consumer from a session.
func (b *Bridge) DetachConsumer(sessionID, consumerID string) {
	if rt, ok := b.Runtime(sessionID); ok {
		rt.DetachConsumer(consumerID)
	}
}

// IngestInbound routes a consumer command into the session sequencer.
func (b *Bridge) IngestInbound(sessionID, consumerID string, cmd types.ConsumerCommand) error {
	rt, ok := b.Runtime(sessionID)
	if !ok {
		return fmt.Errorf("session %s not running", sessionID)
	}
	rt.IngestInbound(consumerID, cmd)
	return nil
}

// ApplyPolicyCommand routes a policy command into the session sequencer.
func (b *Bridge) ApplyPolicyCommand(sessionID string, cmd PolicyCommand) {
	if rt, ok := b.Runtime(sessionID); ok {
		rt.ApplyPolicyCommand(cmd)
	}
}

// NotifyWatchdog forwards a reconnect-watchdog tick to consumers.
func (b *Bridge) NotifyWatchdog(sessionID string, elapsed time.Duration) {
	if rt, ok := b.Runtime(sessionID); ok {
		rt.NotifyWatchdog(elapsed)
	}
}

// CloseSession tears a session down. Idempotent.
func (b *Bridge) CloseSession(sessionID string) {
	if rt, ok := b.Runtime(sessionID); ok {
		rt.Close()
	}
}

// DeleteSession closes a session and removes its record.
func (b *Bridge) DeleteSession(sessionID string) {
	b.CloseSession(sessionID)
	b.repo.Remove(sessionID)
}

// Reestablish relaunches and reconnects a session's backend, resuming the
// backend-side conversation when a backend session id is known.
func (b *Bridge) Reestablish(sessionID string) {
	sess, ok := b.repo.Get(sessionID)
	if !ok {
		return
	}
	rt, ok := b.Runtime(sessionID)
	if !ok {
		return
	}
	ad, ok := b.adapters.Get(sess.Info().AdapterName)
	if !ok {
		return
	}

	relaunch := b.launcher != nil && b.launcher.Supports(ad.Name())
	if relaunch {
		b.launcher.Kill(sessionID)
	}
	go b.establish(ad, sess, rt, sess.Info().BackendSessionID, relaunch)
}

// SessionStarting reports whether a session may accept a CLI socket; the
// gateway uses this as its session check.
func (b *Bridge) SessionStarting(sessionID string) bool {
	sess, ok := b.repo.Get(sessionID)
	if !ok {
		return false
	}
	switch sess.State() {
	case StateStarting, StateAwaitingBackend, StateDegraded:
		return true
	default:
		return false
	}
}

// Sessions lists every live session.
func (b *Bridge) Sessions() []*Session { return b.repo.All() }

// Get looks a session up.
func (b *Bridge) Get(sessionID string) (*Session, bool) { return b.repo.Get(sessionID) }

// RestoreAll brings persisted sessions back after a daemon restart. Must run
// after the launcher and gateway exist (documented startup order): restored
// sessions come back degraded and reconnect lazily on first consumer
// arrival.
func (b *Bridge) RestoreAll(ctx context.Context) int {
	restored := b.repo.Restore(ctx, b.cfg.HistorySize)
	for _, sess := range restored {
		// Direct-connection sessions (no PID, known adapter) stay degraded
		// so the watchdog re-establishes them on demand.
		b.log.Info().
			Str("sessionId", sess.ID()).
			Str("state", string(sess.State())).
			Msg("session restored")
	}
	return len(restored)
}

// CloseAll tears down every runtime (daemon shutdown).
func (b *Bridge) CloseAll() {
	b.mu.Lock()
	rts := make([]*Runtime, 0, len(b.runtimes))
	for _, rt := range b.runtimes {
		rts = append(rts, rt)
	}
	b.mu.Unlock()

	for _, rt := range rts {
		rt.Close()
	}
}
