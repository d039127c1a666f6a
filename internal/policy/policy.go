// Package policy hosts the supervisory policies that watch the domain event
// bus and steer sessions through bridge policy commands. Policies never
// mutate session state directly.
package policy

import (
	"time"

	"github.com/teng-lin/beamcode/internal/session"
)

// Bridge is the slice of the session bridge policies drive.
type Bridge interface {
	Sessions() []*session.Session
	ApplyPolicyCommand(sessionID string, cmd session.PolicyCommand)
	NotifyWatchdog(sessionID string, elapsed time.Duration)
	Reestablish(sessionID string)
	Runtime(sessionID string) (*session.Runtime, bool)
}

// Config tunes both policies.
type Config struct {
	// ReconnectGracePeriod bounds how long a session may sit in starting
	// before its CLI is relaunched.
	ReconnectGracePeriod time.Duration
	// WatchdogInterval paces watchdog frames during the grace window.
	WatchdogInterval time.Duration
	// IdleSessionTimeout reaps consumerless sessions with no backend
	// activity beyond this age.
	IdleSessionTimeout time.Duration
	// IdleSweepInterval paces the periodic idle sweep.
	IdleSweepInterval time.Duration
	// IdleDebounce delays the immediate sweep after a disconnect event.
	IdleDebounce time.Duration
}

// DefaultConfig returns the standard policy tuning.
func DefaultConfig() Config {
	return Config{
		ReconnectGracePeriod: 5 * time.Second,
		WatchdogInterval:     time.Second,
		IdleSessionTimeout:   30 * time.Minute,
		IdleSweepInterval:    time.Minute,
		IdleDebounce:         250 * time.Millisecond,
	}
}
