package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/session"
	"github.com/teng-lin/beamcode/pkg/types"
)

// fakeBridge records policy side effects.
type fakeBridge struct {
	mu          sync.Mutex
	sessions    []*session.Session
	commands    []string // "sessionID/type"
	watchdogs   map[string]int
	reestablish []string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{watchdogs: make(map[string]int)}
}

func (b *fakeBridge) Sessions() []*session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

func (b *fakeBridge) ApplyPolicyCommand(sessionID string, cmd session.PolicyCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, sessionID+"/"+cmd.Type)
}

func (b *fakeBridge) NotifyWatchdog(sessionID string, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchdogs[sessionID]++
}

func (b *fakeBridge) Reestablish(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reestablish = append(b.reestablish, sessionID)
}

func (b *fakeBridge) Runtime(sessionID string) (*session.Runtime, bool) {
	// The fake has no live runtimes; consumerless means eligibility checks
	// fall through to activity age.
	return nil, false
}

func (b *fakeBridge) commandCount(needle string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.commands {
		if c == needle {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		ReconnectGracePeriod: 80 * time.Millisecond,
		WatchdogInterval:     20 * time.Millisecond,
		IdleSessionTimeout:   50 * time.Millisecond,
		IdleSweepInterval:    time.Hour, // periodic tick out of the picture
		IdleDebounce:         20 * time.Millisecond,
	}
}

func TestReconnectFiresAfterGrace(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	bridge := newFakeBridge()

	p := NewReconnectPolicy(testConfig(), bridge, bus)
	p.Start()
	defer p.Stop()

	bus.PublishSync(event.Event{Type: event.ProcessLaunched, SessionID: "s1"})

	require.Eventually(t, func() bool {
		return bridge.commandCount("s1/"+session.PolicyReconnectTimeout) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	bridge.mu.Lock()
	watchdogs := bridge.watchdogs["s1"]
	relaunches := len(bridge.reestablish)
	bridge.mu.Unlock()
	assert.GreaterOrEqual(t, watchdogs, 1, "consumers must see watchdog frames during the grace window")
	assert.GreaterOrEqual(t, relaunches, 1)
}

func TestReconnectCancelledByBackendConnected(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	bridge := newFakeBridge()

	p := NewReconnectPolicy(testConfig(), bridge, bus)
	p.Start()
	defer p.Stop()

	bus.PublishSync(event.Event{Type: event.ProcessLaunched, SessionID: "s1"})
	time.Sleep(20 * time.Millisecond)
	bus.PublishSync(event.Event{Type: event.BackendConnected, SessionID: "s1"})

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, bridge.commandCount("s1/"+session.PolicyReconnectTimeout),
		"connected backend must cancel the relaunch")
}

func TestIdleSweepReapsStaleSessions(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	bridge := newFakeBridge()

	stale := session.NewSession(types.SessionInfo{ID: "stale"}, 0)
	bridge.sessions = []*session.Session{stale}

	cfg := testConfig()
	p := NewIdlePolicy(cfg, bridge, bus)
	p.Start()
	defer p.Stop()

	// Age the session past the idle timeout, then trigger the debounced
	// sweep through a disconnect event.
	time.Sleep(cfg.IdleSessionTimeout + 10*time.Millisecond)
	bus.PublishSync(event.Event{Type: event.ConsumerDisconnected, SessionID: "stale"})

	require.Eventually(t, func() bool {
		return bridge.commandCount("stale/"+session.PolicyIdleReap) == 1
	}, 2*time.Second, 10*time.Millisecond, "exactly one idle_reap within one debounce window")
}

func TestIdleSweepSkipsFreshSessions(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	bridge := newFakeBridge()

	fresh := session.NewSession(types.SessionInfo{ID: "fresh"}, 0)
	bridge.sessions = []*session.Session{fresh}

	p := NewIdlePolicy(testConfig(), bridge, bus)
	p.Start()
	defer p.Stop()

	bus.PublishSync(event.Event{Type: event.ConsumerDisconnected, SessionID: "fresh"})
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, bridge.commandCount("fresh/"+session.PolicyIdleReap))
}

func TestDebounceCoalescesBursts(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	bridge := newFakeBridge()

	stale := session.NewSession(types.SessionInfo{ID: "stale"}, 0)
	bridge.sessions = []*session.Session{stale}

	cfg := testConfig()
	p := NewIdlePolicy(cfg, bridge, bus)
	p.Start()
	defer p.Stop()

	time.Sleep(cfg.IdleSessionTimeout + 10*time.Millisecond)
	// A burst of disconnects collapses into one sweep.
	for i := 0; i < 5; i++ {
		bus.PublishSync(event.Event{Type: event.ConsumerDisconnected, SessionID: "stale"})
	}

	require.Eventually(t, func() bool {
		return bridge.commandCount("stale/"+session.PolicyIdleReap) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(3 * cfg.IdleDebounce)
	assert.Equal(t, 1, bridge.commandCount("stale/"+session.PolicyIdleReap))
}
