package claude

import (
	"encoding/json"
	"testing"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/signature"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

func TestCleanToolName(t *testing.T) {
	if got := cleanToolName("weather.get current!"); got != "weather_get_current_" {
		t.Fatalf("got %q", got)
	}
}

func TestConvertRole(t *testing.T) {
	if got := convertRole("assistant"); got != "model" {
		t.Fatalf("assistant -> %q, want model", got)
	}
	if got := convertRole("user"); got != "user" {
		t.Fatalf("user -> %q, want user", got)
	}
	if got := convertRole("system"); got != "user" {
		t.Fatalf("unknown role should default to user, got %q", got)
	}
}

func signedThinkingBlock(sig string) block {
	return block{Type: "thinking", Thinking: "reasoning...", Signature: sig}
}

func TestNeedsThinkingRecoveryToolLoop(t *testing.T) {
	sig := "0123456789012345678901234567890123456789012345678901234567890"
	messages := []message{
		{Role: "user", Content: []block{{Type: "text", Text: "do it"}}},
		{Role: "assistant", Content: []block{
			signedThinkingBlock(sig),
			{Type: "tool_use", ID: "tu_1", Name: "run", Input: map[string]interface{}{}},
		}},
		{Role: "user", Content: []block{{Type: "tool_result", ToolUseID: "tu_1", Content: "ok"}}},
	}
	if !needsThinkingRecovery(messages) {
		t.Fatal("expected recovery to be needed after a completed tool loop")
	}
}

func TestCloseToolLoopForThinkingUsesSpecLiteralText(t *testing.T) {
	sig := "0123456789012345678901234567890123456789012345678901234567890"
	messages := []message{
		{Role: "user", Content: []block{{Type: "text", Text: "do it"}}},
		{Role: "assistant", Content: []block{
			signedThinkingBlock(sig),
			{Type: "tool_use", ID: "tu_1", Name: "run", Input: map[string]interface{}{}},
		}},
		{Role: "user", Content: []block{{Type: "tool_result", ToolUseID: "tu_1", Content: "ok"}}},
	}
	out := closeToolLoopForThinking(messages)
	if len(out) != len(messages)+2 {
		t.Fatalf("expected 2 synthetic turns appended, got %d extra", len(out)-len(messages))
	}
	assistantTurn := out[len(out)-2]
	userTurn := out[len(out)-1]
	if assistantTurn.Content[0].Text != "[Tool execution completed. Please proceed.]" {
		t.Fatalf("assistant recovery text = %q, want %q", assistantTurn.Content[0].Text, "[Tool execution completed. Please proceed.]")
	}
	if userTurn.Content[0].Text != "Proceed." {
		t.Fatalf("user recovery text = %q, want %q", userTurn.Content[0].Text, "Proceed.")
	}
}

func TestRemoveTrailingThinkingBlocks(t *testing.T) {
	m := message{Role: "assistant", Content: []block{
		{Type: "text", Text: "hi"},
		{Type: "thinking", Thinking: "dangling"},
	}}
	got := removeTrailingThinkingBlocks(m)
	if len(got.Content) != 1 || got.Content[0].Type != "text" {
		t.Fatalf("expected trailing thinking block dropped, got %+v", got.Content)
	}
}

func TestReorderAssistantContentThinkingFirst(t *testing.T) {
	m := message{Role: "assistant", Content: []block{
		{Type: "tool_use", Name: "run"},
		{Type: "text", Text: "hi"},
		{Type: "thinking", Thinking: "reasoning"},
	}}
	got := reorderAssistantContent(m)
	if got.Content[0].Type != "thinking" || got.Content[1].Type != "text" || got.Content[2].Type != "tool_use" {
		t.Fatalf("expected thinking, text, tool_use order, got %+v", got.Content)
	}
}

func TestBuildRequestPlainTextModel(t *testing.T) {
	cache := signature.New()
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 512,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello"}}},
		},
	}
	body, caps := BuildRequest(req, router.Tables{}, cache)
	if caps.RequestType != router.RequestText {
		t.Fatalf("request type = %q, want text", caps.RequestType)
	}
	contents, ok := body["contents"].([]interface{})
	if !ok || len(contents) != 1 {
		t.Fatalf("expected one content entry, got %v", body["contents"])
	}
}

func TestBuildRequestWebSearchDowngrade(t *testing.T) {
	cache := signature.New()
	req := &anthropic.MessagesRequest{
		Model:     "gemini-1.5-pro",
		MaxTokens: 256,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "search this"}}},
		},
		Tools: []anthropic.Tool{{Name: "web_search"}},
	}
	body, caps := BuildRequest(req, router.Tables{}, cache)
	if caps.RequestType != router.RequestWebSearch {
		t.Fatalf("request type = %q, want web_search", caps.RequestType)
	}
	if caps.FinalModel != "gemini-2.5-flash" {
		t.Fatalf("final model = %q, want downgrade to gemini-2.5-flash", caps.FinalModel)
	}
	tools, ok := body["tools"].([]interface{})
	if !ok || len(tools) == 0 {
		t.Fatalf("expected google_search tool injected, got %v", body["tools"])
	}
}

func TestBuildRequestToolSchemaIsCleaned(t *testing.T) {
	cache := signature.New()
	schema, _ := json.Marshal(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
		"required":   []string{"city"},
	})
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 256,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "weather?"}}},
		},
		Tools: []anthropic.Tool{{Name: "get_weather", InputSchema: schema}},
	}
	body, _ := BuildRequest(req, router.Tables{}, cache)
	tools, ok := body["tools"].([]interface{})
	if !ok || len(tools) != 1 {
		t.Fatalf("expected one tool entry, got %v", body["tools"])
	}
	toolMap := tools[0].(map[string]interface{})
	decls := toolMap["functionDeclarations"].([]interface{})
	decl := decls[0].(map[string]interface{})
	params := decl["parameters"].(map[string]interface{})
	if params["type"] != "OBJECT" {
		t.Fatalf("schema type not cleaned to OBJECT: %v", params["type"])
	}
}

func TestConvertResponseTokenAccounting(t *testing.T) {
	cache := signature.New()
	raw := json.RawMessage(`{
		"candidates": [{
			"content": {"parts": [{"text": "hi there"}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 100, "cachedContentTokenCount": 40, "candidatesTokenCount": 12}
	}`)
	resp, err := ConvertResponse(raw, "claude-sonnet-4-5", cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Usage.InputTokens != 60 {
		t.Fatalf("input tokens = %d, want 60 (100-40)", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 12 {
		t.Fatalf("output tokens = %d, want 12", resp.Usage.OutputTokens)
	}
	if resp.Usage.CacheReadInputTokens != 40 {
		t.Fatalf("cache read tokens = %d, want 40", resp.Usage.CacheReadInputTokens)
	}
	if resp.StopReason != "end_turn" {
		t.Fatalf("stop reason = %q, want end_turn", resp.StopReason)
	}
}

func TestConvertResponseToolUse(t *testing.T) {
	cache := signature.New()
	raw := json.RawMessage(`{
		"candidates": [{
			"content": {"parts": [{"functionCall": {"name": "get_weather", "args": {"city": "nyc"}}}]},
			"finishReason": "TOOL_USE"
		}]
	}`)
	resp, err := ConvertResponse(raw, "claude-sonnet-4-5", cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "tool_use" {
		t.Fatalf("expected one tool_use block, got %+v", resp.Content)
	}
	if resp.Content[0].ID == "" {
		t.Fatal("expected a generated tool_use id")
	}
	if resp.StopReason != "tool_use" {
		t.Fatalf("stop reason = %q, want tool_use", resp.StopReason)
	}
}

func TestConvertResponseThinkingCachesFamily(t *testing.T) {
	cache := signature.New()
	sig := "0123456789012345678901234567890123456789012345678901234567890"
	raw, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{
				"parts": []map[string]interface{}{{"text": "thinking...", "thought": true, "thoughtSignature": sig}},
			},
			"finishReason": "STOP",
		}},
	})
	resp, err := ConvertResponse(raw, "gemini-3-pro-preview", cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "thinking" {
		t.Fatalf("expected one thinking block, got %+v", resp.Content)
	}
	if cache.GetSignatureFamily(sig) != string(config.FamilyGemini) {
		t.Fatalf("expected signature cached under gemini family, got %q", cache.GetSignatureFamily(sig))
	}
}
