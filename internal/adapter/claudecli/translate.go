package claudecli

import (
	"encoding/json"

	"github.com/teng-lin/beamcode/pkg/types"
)

// Inbound normalizes one NDJSON line from the CLI into zero or more unified
// messages. It is total: unrecognized frames come back as a single
// stream_event fallback carrying the raw payload.
func Inbound(line []byte) []types.UnifiedMessage {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return []types.UnifiedMessage{fallback(line)}
	}

	switch f.Type {
	case FrameAssistant:
		if f.Message == nil {
			return []types.UnifiedMessage{fallback(line)}
		}
		msg := types.UnifiedMessage{
			Type:    types.MessageTypeAssistant,
			Role:    types.RoleAssistant,
			Content: f.Message.Content,
		}
		msg.SetMeta(types.MetaSessionID, f.SessionID)
		if f.Message.Model != "" {
			msg.SetMeta(types.MetaModel, f.Message.Model)
		}
		if f.ParentToolUseID != nil {
			msg.SetMeta(types.MetaParentToolUseID, *f.ParentToolUseID)
		}
		return []types.UnifiedMessage{msg}

	case FrameUser:
		if f.Message == nil {
			return []types.UnifiedMessage{fallback(line)}
		}
		msg := types.UnifiedMessage{
			Type:    types.MessageTypeUser,
			Role:    types.RoleUser,
			Content: f.Message.Content,
		}
		msg.SetMeta(types.MetaSessionID, f.SessionID)
		return []types.UnifiedMessage{msg}

	case FrameResult:
		msg := types.UnifiedMessage{
			Type: types.MessageTypeResult,
			Role: types.RoleSystem,
		}
		if f.Result != "" {
			msg.Content = []types.ContentBlock{types.TextBlock(f.Result)}
		}
		msg.SetMeta(types.MetaSessionID, f.SessionID)
		msg.SetMeta(types.MetaSubtype, f.Subtype)
		msg.SetMeta("is_error", f.IsError)
		msg.SetMeta("duration_ms", f.DurationMS)
		msg.SetMeta("num_turns", f.NumTurns)
		return []types.UnifiedMessage{msg}

	case FrameSystem:
		msg := types.UnifiedMessage{
			Type: types.MessageTypeSystem,
			Role: types.RoleSystem,
		}
		msg.SetMeta(types.MetaSessionID, f.SessionID)
		msg.SetMeta(types.MetaSubtype, f.Subtype)
		if f.Subtype == "init" {
			msg.Type = types.MessageTypeSessionInit
			if f.Model != "" {
				msg.SetMeta(types.MetaModel, f.Model)
			}
			if f.Cwd != "" {
				msg.SetMeta("cwd", f.Cwd)
			}
		}
		return []types.UnifiedMessage{msg}

	case FrameStreamEvent:
		msg := types.UnifiedMessage{
			Type: types.MessageTypeStreamEvent,
			Role: types.RoleAssistant,
		}
		msg.SetMeta(types.MetaSessionID, f.SessionID)
		msg.SetMeta("event", json.RawMessage(f.Event))
		if f.ParentToolUseID != nil {
			msg.SetMeta(types.MetaParentToolUseID, *f.ParentToolUseID)
		}
		return []types.UnifiedMessage{msg}

	case FrameControlRequest:
		if f.Request == nil || f.Request.Subtype != SubtypeCanUseTool {
			return []types.UnifiedMessage{fallback(line)}
		}
		msg := types.UnifiedMessage{
			Type: types.MessageTypePermissionRequest,
			Role: types.RoleSystem,
		}
		msg.SetMeta(types.MetaRequestID, f.RequestID)
		msg.SetMeta("tool_name", f.Request.ToolName)
		msg.SetMeta("input", f.Request.Input)
		msg.SetMeta("description", f.Request.Description)
		return []types.UnifiedMessage{msg}

	case FrameControlResponse:
		// Acknowledgements of daemon-issued control requests carry no
		// consumer-visible information.
		return nil

	case FrameTeamState:
		if f.Team == nil {
			return []types.UnifiedMessage{fallback(line)}
		}
		msg := types.UnifiedMessage{
			Type: types.MessageTypeTeamEvent,
			Role: types.RoleSystem,
		}
		msg.SetMeta("team", *f.Team)
		return []types.UnifiedMessage{msg}

	default:
		return []types.UnifiedMessage{fallback(line)}
	}
}

// fallback wraps an unrecognized frame so no backend traffic is silently
// dropped.
func fallback(line []byte) types.UnifiedMessage {
	msg := types.UnifiedMessage{
		Type: types.MessageTypeStreamEvent,
		Role: types.RoleSystem,
	}
	msg.SetMeta("raw", string(line))
	msg.SetMeta("fallback", true)
	return msg
}

// Outbound translates one unified message into its NDJSON wire form. The
// second return is false for message types that have no CLI representation.
func Outbound(msg types.UnifiedMessage, sessionID string) ([]byte, bool) {
	switch msg.Type {
	case types.MessageTypeUser:
		f := Frame{
			Type:      FrameUser,
			SessionID: sessionID,
			Message: &WireMessage{
				Role:    "user",
				Content: msg.Content,
			},
		}
		if parent := msg.MetaString(types.MetaParentToolUseID); parent != "" {
			f.ParentToolUseID = &parent
		}
		data, err := json.Marshal(f)
		if err != nil {
			return nil, false
		}
		return data, true

	case types.MessageTypeInterrupt:
		data, err := json.Marshal(Frame{
			Type:      FrameControlRequest,
			RequestID: msg.MetaString(types.MetaRequestID),
			Request:   &ControlRequest{Subtype: SubtypeInterrupt},
		})
		if err != nil {
			return nil, false
		}
		return data, true

	default:
		return nil, false
	}
}
