// Package claudecli implements the Claude SDK-URL adapter: NDJSON frames
// over a WebSocket that the CLI dials back to the daemon.
package claudecli

import (
	"encoding/json"

	"github.com/teng-lin/beamcode/pkg/types"
)

// Frame is the NDJSON wire envelope spoken by the CLI.
type Frame struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// user / assistant
	Message         *WireMessage `json:"message,omitempty"`
	ParentToolUseID *string      `json:"parent_tool_use_id,omitempty"`
	SessionID       string       `json:"session_id,omitempty"`

	// system init
	Model string `json:"model,omitempty"`
	Cwd   string `json:"cwd,omitempty"`

	// result
	IsError    bool   `json:"is_error,omitempty"`
	Result     string `json:"result,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	NumTurns   int    `json:"num_turns,omitempty"`

	// stream_event
	Event json.RawMessage `json:"event,omitempty"`

	// control_request
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// control_response
	Response *ControlResponseBody `json:"response,omitempty"`

	// team state updates
	Team *types.TeamState `json:"team,omitempty"`
}

// WireMessage is the role/content body of user and assistant frames.
type WireMessage struct {
	Role    string               `json:"role"`
	Content []types.ContentBlock `json:"content"`
	Model   string               `json:"model,omitempty"`
}

// ControlRequest is the discriminated body of a control_request frame.
type ControlRequest struct {
	Subtype string `json:"subtype"`

	// can_use_tool
	ToolName    string         `json:"tool_name,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Description string         `json:"description,omitempty"`

	// set_permission_mode
	Mode string `json:"mode,omitempty"`

	// set_model
	Model string `json:"model,omitempty"`
}

// Control request subtypes.
const (
	SubtypeInterrupt         = "interrupt"
	SubtypeCanUseTool        = "can_use_tool"
	SubtypeSetPermissionMode = "set_permission_mode"
	SubtypeSetModel          = "set_model"
)

// ControlResponseBody is the body of a control_response frame.
type ControlResponseBody struct {
	Subtype   string         `json:"subtype"` // "success" | "error"
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Frame types.
const (
	FrameUser            = "user"
	FrameAssistant       = "assistant"
	FrameSystem          = "system"
	FrameResult          = "result"
	FrameStreamEvent     = "stream_event"
	FrameControlRequest  = "control_request"
	FrameControlResponse = "control_response"
	FrameTeamState       = "team_state"
)
