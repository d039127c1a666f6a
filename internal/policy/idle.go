package policy

import (
	"sync"
	"time"

	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/internal/session"
)

// IdlePolicy reaps sessions that have no consumers and no recent backend
// activity. Besides the periodic sweep, disconnect events trigger a
// debounced immediate sweep so reaping does not wait for the next tick.
type IdlePolicy struct {
	cfg    Config
	bridge Bridge
	bus    *event.Bus

	mu       sync.Mutex
	debounce *time.Timer
	unsubs   []func()
	stop     chan struct{}
	stopped  bool
}

// NewIdlePolicy creates the policy; call Start to arm it.
func NewIdlePolicy(cfg Config, bridge Bridge, bus *event.Bus) *IdlePolicy {
	return &IdlePolicy{
		cfg:    cfg,
		bridge: bridge,
		bus:    bus,
		stop:   make(chan struct{}),
	}
}

// Start arms the periodic sweep and the disconnect-triggered debounce.
func (p *IdlePolicy) Start() {
	p.unsubs = append(p.unsubs,
		p.bus.Subscribe(event.ConsumerDisconnected, func(e event.Event) { p.kick() }),
		p.bus.Subscribe(event.BackendDisconnected, func(e event.Event) { p.kick() }),
	)

	go func() {
		ticker := time.NewTicker(p.cfg.IdleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Sweep()
			case <-p.stop:
				return
			}
		}
	}()
}

// Stop tears the policy down.
func (p *IdlePolicy) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.debounce != nil {
		p.debounce.Stop()
	}
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	close(p.stop)
}

// kick schedules a debounced sweep.
func (p *IdlePolicy) kick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.cfg.IdleDebounce, p.Sweep)
}

// Sweep applies idle_reap to every eligible session. Eligibility is
// re-checked inside the runtime, so racing a reconnecting consumer is safe.
func (p *IdlePolicy) Sweep() {
	cutoff := time.Now().Add(-p.cfg.IdleSessionTimeout)

	for _, sess := range p.bridge.Sessions() {
		if sess.State().Terminal() {
			continue
		}
		rt, ok := p.bridge.Runtime(sess.ID())
		if ok && rt.ConsumerCount() > 0 {
			continue
		}
		if sess.LastActivity().After(cutoff) {
			continue
		}

		logging.Info().
			Str("sessionId", sess.ID()).
			Time("lastActivity", sess.LastActivity()).
			Msg("idle sweep reaping session")
		p.bridge.ApplyPolicyCommand(sess.ID(), session.PolicyCommand{Type: session.PolicyIdleReap})
	}
}
