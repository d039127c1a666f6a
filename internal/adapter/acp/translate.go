package acp

import (
	"encoding/json"

	"github.com/teng-lin/beamcode/pkg/types"
)

// updateParams is the session/update notification payload.
type updateParams struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// update is the discriminated union inside session/update.
type update struct {
	SessionUpdate string `json:"sessionUpdate"`

	// agent_message_chunk / agent_thought_chunk
	Content *contentBlock `json:"content,omitempty"`

	// tool_call / tool_call_update
	ToolCallID string         `json:"toolCallId,omitempty"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status,omitempty"`
	RawInput   map[string]any `json:"rawInput,omitempty"`
}

// contentBlock is ACP's content shape.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TranslateUpdate normalizes one session/update notification. Unknown update
// kinds become a single stream_event fallback carrying the raw payload.
func TranslateUpdate(params json.RawMessage) []types.UnifiedMessage {
	var p updateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return []types.UnifiedMessage{rawFallback(params)}
	}
	var u update
	if err := json.Unmarshal(p.Update, &u); err != nil {
		return []types.UnifiedMessage{rawFallback(params)}
	}

	switch u.SessionUpdate {
	case "agent_message_chunk":
		if u.Content == nil || u.Content.Type != "text" {
			return []types.UnifiedMessage{rawFallback(params)}
		}
		msg := types.UnifiedMessage{
			Type:    types.MessageTypeAssistant,
			Role:    types.RoleAssistant,
			Content: []types.ContentBlock{types.TextBlock(u.Content.Text)},
		}
		msg.SetMeta(types.MetaSessionID, p.SessionID)
		return []types.UnifiedMessage{msg}

	case "agent_thought_chunk":
		msg := types.UnifiedMessage{
			Type: types.MessageTypeStreamEvent,
			Role: types.RoleAssistant,
		}
		msg.SetMeta(types.MetaSessionID, p.SessionID)
		msg.SetMeta(types.MetaSubtype, "thought")
		if u.Content != nil {
			msg.SetMeta("text", u.Content.Text)
		}
		return []types.UnifiedMessage{msg}

	case "tool_call":
		msg := types.UnifiedMessage{
			Type:    types.MessageTypeAssistant,
			Role:    types.RoleAssistant,
			Content: []types.ContentBlock{types.ToolUseBlock(u.ToolCallID, u.Title, u.RawInput)},
		}
		msg.SetMeta(types.MetaSessionID, p.SessionID)
		return []types.UnifiedMessage{msg}

	case "tool_call_update":
		msg := types.UnifiedMessage{
			Type: types.MessageTypeStreamEvent,
			Role: types.RoleAssistant,
		}
		msg.SetMeta(types.MetaSessionID, p.SessionID)
		msg.SetMeta(types.MetaSubtype, "tool_call_update")
		msg.SetMeta("tool_call_id", u.ToolCallID)
		msg.SetMeta("status", u.Status)
		return []types.UnifiedMessage{msg}

	case "plan":
		msg := types.UnifiedMessage{
			Type: types.MessageTypeStreamEvent,
			Role: types.RoleAssistant,
		}
		msg.SetMeta(types.MetaSessionID, p.SessionID)
		msg.SetMeta(types.MetaSubtype, "plan")
		msg.SetMeta("raw", string(p.Update))
		return []types.UnifiedMessage{msg}

	default:
		return []types.UnifiedMessage{rawFallback(params)}
	}
}

func rawFallback(raw json.RawMessage) types.UnifiedMessage {
	msg := types.UnifiedMessage{
		Type: types.MessageTypeStreamEvent,
		Role: types.RoleSystem,
	}
	msg.SetMeta("raw", string(raw))
	msg.SetMeta("fallback", true)
	return msg
}

// promptBlocks converts a unified user message into ACP prompt content.
func promptBlocks(msg types.UnifiedMessage) []map[string]any {
	var blocks []map[string]any
	for _, b := range msg.Content {
		switch b.Type {
		case types.BlockTypeText:
			blocks = append(blocks, map[string]any{"type": "text", "text": b.Text})
		case types.BlockTypeImage:
			blocks = append(blocks, map[string]any{
				"type":     "image",
				"mimeType": b.MediaType,
				"data":     b.Data,
			})
		}
	}
	return blocks
}

// permissionParams is the session/request_permission request payload.
type permissionParams struct {
	SessionID string `json:"sessionId"`
	ToolCall  struct {
		ToolCallID string         `json:"toolCallId"`
		Title      string         `json:"title"`
		RawInput   map[string]any `json:"rawInput"`
	} `json:"toolCall"`
	Options []permissionOption `json:"options"`
}

type permissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // "allow_once" | "allow_always" | "reject_once" | ...
}

// permissionOutcome maps a consumer decision onto the agent's offered
// options, preferring the matching one-shot option.
func permissionOutcome(req permissionParams, resp types.PermissionResponse) map[string]any {
	wantAllow := resp.Behavior == types.PermissionAllow

	var optionID string
	for _, opt := range req.Options {
		allowOpt := opt.Kind == "allow_once" || opt.Kind == "allow_always"
		if allowOpt == wantAllow {
			optionID = opt.OptionID
			break
		}
	}
	if optionID == "" {
		if wantAllow {
			optionID = "allow"
		} else {
			optionID = "reject"
		}
	}

	return map[string]any{
		"outcome": map[string]any{
			"outcome":  "selected",
			"optionId": optionID,
		},
	}
}
