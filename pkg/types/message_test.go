package types

import (
	"encoding/json"
	"testing"
)

func TestUnifiedMessageJSONRoundTrip(t *testing.T) {
	msg := UnifiedMessage{
		ID:   "msg_000001",
		Type: MessageTypeAssistant,
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock("hello"),
			ToolUseBlock("tu_1", "read_file", map[string]any{"path": "main.go"}),
		},
		Metadata: map[string]any{MetaSessionID: "s1", MetaModel: "opus"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded UnifiedMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.ID != msg.ID || decoded.Type != msg.Type {
		t.Errorf("identity fields changed: %+v", decoded)
	}
	if len(decoded.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(decoded.Content))
	}
	if decoded.Content[0].Type != BlockTypeText || decoded.Content[0].Text != "hello" {
		t.Errorf("text block changed: %+v", decoded.Content[0])
	}
	if decoded.Content[1].ToolName != "read_file" {
		t.Errorf("tool_use block changed: %+v", decoded.Content[1])
	}
}

func TestContentBlockOrderPreserved(t *testing.T) {
	msg := UnifiedMessage{Type: MessageTypeAssistant}
	for _, s := range []string{"a", "b", "c", "d"} {
		msg.Content = append(msg.Content, TextBlock(s))
	}

	data, _ := json.Marshal(msg)
	var decoded UnifiedMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	for i, want := range []string{"a", "b", "c", "d"} {
		if decoded.Content[i].Text != want {
			t.Errorf("block %d: expected %q, got %q", i, want, decoded.Content[i].Text)
		}
	}
}

func TestPlainText(t *testing.T) {
	msg := UnifiedMessage{
		Content: []ContentBlock{
			TextBlock("one"),
			ToolUseBlock("tu", "bash", nil),
			TextBlock("two"),
		},
	}
	if got := msg.PlainText(); got != "one\ntwo" {
		t.Errorf("expected %q, got %q", "one\ntwo", got)
	}
}

func TestMetaHelpers(t *testing.T) {
	var msg UnifiedMessage
	if msg.Meta(MetaModel) != nil {
		t.Error("expected nil meta on empty message")
	}
	msg.SetMeta(MetaModel, "sonnet")
	if msg.MetaString(MetaModel) != "sonnet" {
		t.Errorf("expected sonnet, got %q", msg.MetaString(MetaModel))
	}
	if msg.MetaString(MetaSessionID) != "" {
		t.Error("expected empty string for absent key")
	}
}
