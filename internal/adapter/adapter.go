// Package adapter defines the contract that binds one backend protocol to
// the unified message schema.
package adapter

import (
	"context"

	"github.com/teng-lin/beamcode/pkg/types"
)

// Availability says where the backend runs.
type Availability string

const (
	AvailabilityLocal Availability = "local"
	AvailabilityCloud Availability = "cloud"
)

// Capabilities advertises what a backend can do. The runtime consults this
// before routing slash commands, permission traffic, or team state.
type Capabilities struct {
	Streaming     bool         `json:"streaming"`
	Permissions   bool         `json:"permissions"`
	SlashCommands bool         `json:"slashCommands"`
	Teams         bool         `json:"teams"`
	Availability  Availability `json:"availability"`
}

// ConnectOptions parameterizes a backend connection.
type ConnectOptions struct {
	SessionID string
	Cwd       string
	Model     string

	// PermissionMode is the session's initial permission mode.
	PermissionMode string

	// Resume is the backend-assigned session id from a previous run, empty
	// for a fresh session.
	Resume string

	// Options carries adapter-specific configuration.
	Options map[string]any
}

// BackendSession is one live connection to a backend agent. It is exclusively
// owned by the session runtime that created it.
type BackendSession interface {
	// Send translates and delivers one unified message to the backend.
	Send(ctx context.Context, msg types.UnifiedMessage) error

	// Messages is the inbound stream of normalized messages. The channel is
	// closed when the backend disconnects or the session is closed.
	Messages() <-chan types.UnifiedMessage

	// Close tears the connection down. Idempotent.
	Close() error
}

// Adapter binds one backend protocol to the unified schema.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Connect(ctx context.Context, opts ConnectOptions) (BackendSession, error)
}

// Interruptible is implemented by sessions that can abort an in-flight turn.
type Interruptible interface {
	Interrupt(ctx context.Context) error
}

// Configurable is implemented by sessions that accept live reconfiguration.
type Configurable interface {
	SetModel(ctx context.Context, model string) error
	SetPermissionMode(ctx context.Context, mode string) error
}

// PermissionHandler is implemented by sessions that route tool-use
// authorization decisions back to the backend.
type PermissionHandler interface {
	RespondPermission(ctx context.Context, resp types.PermissionResponse) error
}

// Reconnectable is implemented by sessions that can re-establish a dropped
// backend connection in place.
type Reconnectable interface {
	Reconnect(ctx context.Context) error
}

// BackendSessionID is implemented by sessions that learn a backend-assigned
// id usable for resume.
type BackendSessionID interface {
	BackendID() string
}
