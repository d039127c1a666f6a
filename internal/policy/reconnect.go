package policy

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/internal/session"
)

// ReconnectPolicy relaunches CLI sessions that never dialed back and
// re-establishes dropped backends. Consumers see periodic watchdog frames
// while the grace window runs.
type ReconnectPolicy struct {
	cfg    Config
	bridge Bridge
	bus    *event.Bus

	mu      sync.Mutex
	watches map[string]*reconnectWatch
	unsubs  []func()
	stopped bool
}

type reconnectWatch struct {
	since   time.Time
	backoff backoff.BackOff
	stop    chan struct{}
}

// NewReconnectPolicy creates the policy; call Start to arm it.
func NewReconnectPolicy(cfg Config, bridge Bridge, bus *event.Bus) *ReconnectPolicy {
	return &ReconnectPolicy{
		cfg:     cfg,
		bridge:  bridge,
		bus:     bus,
		watches: make(map[string]*reconnectWatch),
	}
}

// Start subscribes to launch and disconnect events.
func (p *ReconnectPolicy) Start() {
	p.unsubs = append(p.unsubs,
		p.bus.Subscribe(event.ProcessLaunched, func(e event.Event) {
			p.watch(e.SessionID)
		}),
		p.bus.Subscribe(event.BackendConnected, func(e event.Event) {
			p.unwatch(e.SessionID)
		}),
		p.bus.Subscribe(event.BackendDisconnected, func(e event.Event) {
			p.onBackendLost(e.SessionID)
		}),
		p.bus.Subscribe(event.SessionClosed, func(e event.Event) {
			p.unwatch(e.SessionID)
		}),
	)
}

// Stop tears the policy down.
func (p *ReconnectPolicy) Stop() {
	p.mu.Lock()
	p.stopped = true
	watches := p.watches
	p.watches = make(map[string]*reconnectWatch)
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, w := range watches {
		close(w.stop)
	}
}

// watch arms the grace timer for a freshly launched CLI.
func (p *ReconnectPolicy) watch(sessionID string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if _, exists := p.watches[sessionID]; exists {
		p.mu.Unlock()
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.ReconnectGracePeriod
	bo.MaxInterval = 4 * p.cfg.ReconnectGracePeriod
	bo.MaxElapsedTime = 0 // the idle policy bounds total lifetime

	w := &reconnectWatch{since: time.Now(), backoff: bo, stop: make(chan struct{})}
	p.watches[sessionID] = w
	p.mu.Unlock()

	go p.run(sessionID, w)
}

func (p *ReconnectPolicy) unwatch(sessionID string) {
	p.mu.Lock()
	w, ok := p.watches[sessionID]
	if ok {
		delete(p.watches, sessionID)
	}
	p.mu.Unlock()
	if ok {
		close(w.stop)
	}
}

// run paces watchdog frames and fires the relaunch once the grace period
// elapses without a backend connection.
func (p *ReconnectPolicy) run(sessionID string, w *reconnectWatch) {
	grace := time.NewTimer(p.cfg.ReconnectGracePeriod)
	defer grace.Stop()
	watchdog := time.NewTicker(p.cfg.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-w.stop:
			return

		case <-watchdog.C:
			p.bridge.NotifyWatchdog(sessionID, time.Since(w.since))

		case <-grace.C:
			logging.Info().
				Str("sessionId", sessionID).
				Dur("grace", p.cfg.ReconnectGracePeriod).
				Msg("reconnect grace elapsed, relaunching")

			p.bridge.ApplyPolicyCommand(sessionID, session.PolicyCommand{Type: session.PolicyReconnectTimeout})
			p.bridge.Reestablish(sessionID)

			grace.Reset(w.backoff.NextBackOff())
		}
	}
}

// onBackendLost re-establishes a session whose backend dropped while it
// still has consumers; consumerless sessions are left to the idle policy.
func (p *ReconnectPolicy) onBackendLost(sessionID string) {
	rt, ok := p.bridge.Runtime(sessionID)
	if !ok {
		return
	}
	if rt.ConsumerCount() == 0 {
		return
	}
	logging.Info().Str("sessionId", sessionID).Msg("backend lost with consumers attached, reconnecting")
	p.bridge.Reestablish(sessionID)
	p.watch(sessionID)
}
