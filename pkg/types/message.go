// Package types provides the core data types for the beamcode daemon.
package types

import "time"

// MessageType is the top-level discriminator for unified messages.
type MessageType string

const (
	MessageTypeUser                MessageType = "user"
	MessageTypeAssistant           MessageType = "assistant"
	MessageTypeSystem              MessageType = "system"
	MessageTypeResult              MessageType = "result"
	MessageTypeStreamEvent         MessageType = "stream_event"
	MessageTypeStatusChange        MessageType = "status_change"
	MessageTypeSessionInit         MessageType = "session_init"
	MessageTypePermissionRequest   MessageType = "permission_request"
	MessageTypePermissionResponse  MessageType = "permission_response"
	MessageTypeInterrupt           MessageType = "interrupt"
	MessageTypeSlashCommand        MessageType = "slash_command"
	MessageTypeSlashCommandResult  MessageType = "slash_command_result"
	MessageTypeConfigurationChange MessageType = "configuration_change"
	MessageTypeTeamEvent           MessageType = "team_event"
	MessageTypeError               MessageType = "error"
)

// Role identifies the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// UnifiedMessage is the canonical backend-agnostic message record. Every
// backend frame is normalized into zero or more of these before it reaches
// history or a consumer.
type UnifiedMessage struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"`
	Role      Role           `json:"role,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Meta returns a metadata value, or nil if absent.
func (m *UnifiedMessage) Meta(key string) any {
	if m.Metadata == nil {
		return nil
	}
	return m.Metadata[key]
}

// MetaString returns a metadata value as a string, or "" if absent or not a
// string.
func (m *UnifiedMessage) MetaString(key string) string {
	s, _ := m.Meta(key).(string)
	return s
}

// SetMeta sets a metadata key, allocating the map on first use.
func (m *UnifiedMessage) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// Well-known metadata keys.
const (
	MetaSessionID       = "session_id"
	MetaModel           = "model"
	MetaRequestID       = "request_id"
	MetaParentToolUseID = "parent_tool_use_id"
	MetaErrorCode       = "error_code"
	MetaSource          = "source"
	MetaState           = "state"
	MetaSubtype         = "subtype"
)

// BlockType discriminates content block variants.
type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeImage      BlockType = "image"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// ContentBlock is one typed element of a message's content array. Blocks are
// never reordered after creation.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source    string `json:"source,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// tool_use
	ToolUseID string         `json:"id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	ToolInput map[string]any `json:"input,omitempty"`

	// tool_result
	ForToolUseID string `json:"tool_use_id,omitempty"`
	ResultText   string `json:"content,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// ImageBlock builds an image content block.
func ImageBlock(source, mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockTypeImage, Source: source, MediaType: mediaType, Data: data}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ForToolUseID: toolUseID, ResultText: content, IsError: isError}
}

// PlainText flattens the text blocks of a message into one string.
func (m *UnifiedMessage) PlainText() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockTypeText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
