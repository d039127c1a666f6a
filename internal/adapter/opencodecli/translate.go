package opencodecli

import (
	"encoding/json"

	"github.com/teng-lin/beamcode/pkg/types"
)

// serverEvent is the opencode server's event envelope.
type serverEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// messageInfo is the subset of the server's message record the translator
// consumes.
type messageInfo struct {
	Info struct {
		ID         string  `json:"id"`
		SessionID  string  `json:"sessionID"`
		Role       string  `json:"role"`
		ModelID    string  `json:"modelID"`
		ProviderID string  `json:"providerID"`
		Finish     *string `json:"finish"`
	} `json:"info"`
}

// partInfo is the subset of a part.updated payload the translator consumes.
type partInfo struct {
	Part struct {
		SessionID string `json:"sessionID"`
		MessageID string `json:"messageID"`
		Type      string `json:"type"`
		Text      string `json:"text"`
	} `json:"part"`
}

// permissionInfo is the permission.required payload.
type permissionInfo struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata"`
}

// Translate normalizes one server event into zero or more unified messages.
// Events for other sessions are dropped; unrecognized event types fall back
// to a stream_event carrying the raw payload.
func Translate(ev Event, backendID string) []types.UnifiedMessage {
	var env serverEvent
	if err := json.Unmarshal([]byte(ev.Data), &env); err != nil {
		return []types.UnifiedMessage{fallback(ev.Data)}
	}

	switch env.Type {
	case "server.connected":
		return nil

	case "message.updated":
		var mi messageInfo
		if err := json.Unmarshal(env.Properties, &mi); err != nil {
			return []types.UnifiedMessage{fallback(ev.Data)}
		}
		if mi.Info.SessionID != backendID || mi.Info.Role != "assistant" {
			return nil
		}
		// Text arrives through part.updated; the message record carries
		// model attribution and completion.
		if mi.Info.Finish == nil {
			return nil
		}
		msg := types.UnifiedMessage{Type: types.MessageTypeResult, Role: types.RoleSystem}
		msg.SetMeta(types.MetaSessionID, mi.Info.SessionID)
		msg.SetMeta(types.MetaSubtype, *mi.Info.Finish)
		if mi.Info.ModelID != "" {
			msg.SetMeta(types.MetaModel, mi.Info.ProviderID+"/"+mi.Info.ModelID)
		}
		return []types.UnifiedMessage{msg}

	case "part.updated":
		var pi partInfo
		if err := json.Unmarshal(env.Properties, &pi); err != nil {
			return []types.UnifiedMessage{fallback(ev.Data)}
		}
		if pi.Part.SessionID != backendID || pi.Part.Type != "text" {
			return nil
		}
		msg := types.UnifiedMessage{
			Type:    types.MessageTypeAssistant,
			Role:    types.RoleAssistant,
			Content: []types.ContentBlock{types.TextBlock(pi.Part.Text)},
		}
		msg.SetMeta(types.MetaSessionID, pi.Part.SessionID)
		msg.SetMeta("backend_message_id", pi.Part.MessageID)
		return []types.UnifiedMessage{msg}

	case "permission.required":
		var perm permissionInfo
		if err := json.Unmarshal(env.Properties, &perm); err != nil {
			return []types.UnifiedMessage{fallback(ev.Data)}
		}
		if perm.SessionID != backendID {
			return nil
		}
		msg := types.UnifiedMessage{Type: types.MessageTypePermissionRequest, Role: types.RoleSystem}
		msg.SetMeta(types.MetaRequestID, perm.ID)
		msg.SetMeta("tool_name", perm.Title)
		msg.SetMeta("input", perm.Metadata)
		return []types.UnifiedMessage{msg}

	case "session.updated", "session.deleted", "message.removed", "file.edited":
		return nil

	default:
		return []types.UnifiedMessage{fallback(ev.Data)}
	}
}

func fallback(raw string) types.UnifiedMessage {
	msg := types.UnifiedMessage{
		Type: types.MessageTypeStreamEvent,
		Role: types.RoleSystem,
	}
	msg.SetMeta("raw", raw)
	msg.SetMeta("fallback", true)
	return msg
}
