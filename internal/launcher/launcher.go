// Package launcher supervises CLI child processes for adapters whose
// backend dials the daemon.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/internal/redact"
	"github.com/teng-lin/beamcode/pkg/types"
)

// CommandSpec describes how to spawn one adapter's CLI. The placeholders
// {sessionId} and {gatewayUrl} are substituted into Args.
type CommandSpec struct {
	Args []string          `json:"args"`
	Env  map[string]string `json:"env,omitempty"`
}

// Config parameterizes the launcher.
type Config struct {
	// MaxSessions bounds concurrent child processes.
	MaxSessions int
	// GatewayURL is the CLI-facing WebSocket endpoint children dial back.
	GatewayURL string
	// Commands maps adapter name to its spawn spec.
	Commands map[string]CommandSpec
	// LogRingSize caps each child's captured output lines.
	LogRingSize int
}

// processEntry is one supervised child.
type processEntry struct {
	pid       int
	cmd       *exec.Cmd
	logs      *redact.LogRing
	startedAt time.Time
}

// Launcher spawns and tracks CLI children. The process table is written
// only by the launcher and read by the gateway, policies, and the admin
// surface.
type Launcher struct {
	cfg Config
	bus *event.Bus
	log zerolog.Logger

	mu    sync.Mutex
	procs map[string]*processEntry
}

// New creates a launcher.
func New(cfg Config, bus *event.Bus) *Launcher {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 16
	}
	if cfg.LogRingSize <= 0 {
		cfg.LogRingSize = redact.DefaultLogRingSize
	}
	return &Launcher{
		cfg:   cfg,
		bus:   bus,
		log:   logging.Component("launcher"),
		procs: make(map[string]*processEntry),
	}
}

// Supports reports whether the launcher has a spawn spec for an adapter.
func (l *Launcher) Supports(adapterName string) bool {
	_, ok := l.cfg.Commands[adapterName]
	return ok
}

// Launch spawns the CLI for a session. The session id travels via argv
// substitution and the BEAMCODE_SESSION_ID environment variable.
func (l *Launcher) Launch(ctx context.Context, info types.SessionInfo) (int, error) {
	spec, ok := l.cfg.Commands[info.AdapterName]
	if !ok {
		return 0, fmt.Errorf("no command configured for adapter %s", info.AdapterName)
	}

	l.mu.Lock()
	if existing, running := l.procs[info.ID]; running {
		l.mu.Unlock()
		return existing.pid, fmt.Errorf("session %s already has a child (pid %d)", info.ID, existing.pid)
	}
	if len(l.procs) >= l.cfg.MaxSessions {
		l.mu.Unlock()
		return 0, fmt.Errorf("session limit reached (%d)", l.cfg.MaxSessions)
	}
	l.mu.Unlock()

	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		a = strings.ReplaceAll(a, "{sessionId}", info.ID)
		a = strings.ReplaceAll(a, "{gatewayUrl}", l.cfg.GatewayURL)
		args[i] = a
	}
	if len(args) == 0 {
		return 0, fmt.Errorf("empty command for adapter %s", info.AdapterName)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = info.Cwd
	cmd.Env = append(os.Environ(),
		"BEAMCODE_SESSION_ID="+info.ID,
		"BEAMCODE_GATEWAY_URL="+l.cfg.GatewayURL,
	)
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	logs := redact.NewLogRing(l.cfg.LogRingSize)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", args[0], err)
	}

	go logs.Capture(stdout)
	go logs.Capture(stderr)

	entry := &processEntry{pid: cmd.Process.Pid, cmd: cmd, logs: logs, startedAt: time.Now()}
	l.mu.Lock()
	l.procs[info.ID] = entry
	l.mu.Unlock()

	l.log.Info().
		Str("sessionId", info.ID).
		Str("adapter", info.AdapterName).
		Int("pid", entry.pid).
		Msg("cli launched")

	go l.reap(info.ID, entry)
	return entry.pid, nil
}

// reap waits for the child and publishes its exit.
func (l *Launcher) reap(sessionID string, entry *processEntry) {
	err := entry.cmd.Wait()

	l.mu.Lock()
	// Only forget the entry if it is still ours; a relaunch may have
	// replaced it already.
	if cur, ok := l.procs[sessionID]; ok && cur == entry {
		delete(l.procs, sessionID)
	}
	l.mu.Unlock()

	l.log.Info().
		Str("sessionId", sessionID).
		Int("pid", entry.pid).
		AnErr("exit", err).
		Msg("cli exited")
	l.bus.Publish(event.Event{Type: event.ProcessExited, SessionID: sessionID, Data: entry.pid})
}

// Kill terminates a session's child, if any.
func (l *Launcher) Kill(sessionID string) {
	l.mu.Lock()
	entry, ok := l.procs[sessionID]
	if ok {
		delete(l.procs, sessionID)
	}
	l.mu.Unlock()

	if !ok || entry.cmd.Process == nil {
		return
	}
	// SIGTERM first; the reaper collects the exit either way.
	if err := entry.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = entry.cmd.Process.Kill()
	}
}

// PID returns the child pid for a session.
func (l *Launcher) PID(sessionID string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.procs[sessionID]
	if !ok {
		return 0, false
	}
	return entry.pid, true
}

// Logs returns the redacted output ring for a session's child.
func (l *Launcher) Logs(sessionID string) []string {
	l.mu.Lock()
	entry, ok := l.procs[sessionID]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return entry.logs.Lines()
}

// Count returns the number of live children.
func (l *Launcher) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

// Shutdown kills every child.
func (l *Launcher) Shutdown() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.procs))
	for id := range l.procs {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.Kill(id)
	}
}
