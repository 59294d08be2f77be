package openai

import (
	"encoding/json"
	"testing"

	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
)

func TestConvertRole(t *testing.T) {
	if got := convertRole("assistant"); got != "model" {
		t.Fatalf("assistant -> %q, want model", got)
	}
	if got := convertRole("user"); got != "user" {
		t.Fatalf("user -> %q, want user", got)
	}
}

func TestBuildRequestPlainTextModel(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Messages: []ChatMessage{
			{Role: "user", Content: "hello"},
		},
	}
	body, caps := BuildRequest(req, router.Tables{})
	if caps.RequestType != router.RequestText {
		t.Fatalf("request type = %q, want text", caps.RequestType)
	}
	contents, ok := body["contents"].([]interface{})
	if !ok || len(contents) != 1 {
		t.Fatalf("expected one content entry, got %v", body["contents"])
	}
}

func TestBuildRequestImageURLBecomesInlineData(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Messages: []ChatMessage{
			{Role: "user", Content: []interface{}{
				map[string]interface{}{"type": "text", "text": "what is this"},
				map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{
					"url": "data:image/png;base64,Zm9v",
				}},
			}},
		},
	}
	body, _ := BuildRequest(req, router.Tables{})
	contents := body["contents"].([]interface{})
	entry := contents[0].(map[string]interface{})
	parts := entry["parts"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("expected text + image part, got %v", parts)
	}
	imgPart := parts[1].(map[string]interface{})
	inline, ok := imgPart["inlineData"].(map[string]interface{})
	if !ok || inline["data"] != "Zm9v" {
		t.Fatalf("expected inline base64 data, got %v", imgPart)
	}
}

func TestBuildRequestWebSearchDowngrade(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:     "gemini-1.5-pro",
		MaxTokens: 256,
		Messages: []ChatMessage{
			{Role: "user", Content: "search this"},
		},
		Tools: []Tool{{Type: "function", Function: ToolFunction{Name: "web_search"}}},
	}
	body, caps := BuildRequest(req, router.Tables{})
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
	params, _ := json.Marshal(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
		"required":   []string{"city"},
	})
	req := &ChatCompletionRequest{
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Messages: []ChatMessage{
			{Role: "user", Content: "weather?"},
		},
		Tools: []Tool{{Type: "function", Function: ToolFunction{Name: "get_weather", Parameters: params}}},
	}
	body, _ := BuildRequest(req, router.Tables{})
	tools := body["tools"].([]interface{})
	toolMap := tools[0].(map[string]interface{})
	decls := toolMap["functionDeclarations"].([]interface{})
	decl := decls[0].(map[string]interface{})
	schema := decl["parameters"].(map[string]interface{})
	if schema["type"] != "OBJECT" {
		t.Fatalf("schema type not cleaned to OBJECT: %v", schema["type"])
	}
}

func TestBuildRequestToolCallAndResult(t *testing.T) {
	req := &ChatCompletionRequest{
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Messages: []ChatMessage{
			{Role: "user", Content: "weather in nyc?"},
			{Role: "assistant", ToolCalls: []ToolCall{
				{ID: "call_1", Type: "function", Function: ToolCallFunction{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: `{"temp": 72}`},
		},
	}
	body, _ := BuildRequest(req, router.Tables{})
	contents := body["contents"].([]interface{})
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	toolTurn := contents[2].(map[string]interface{})
	parts := toolTurn["parts"].([]interface{})
	fr := parts[0].(map[string]interface{})["functionResponse"].(map[string]interface{})
	if fr["name"] != "get_weather" {
		t.Fatalf("expected function response resolved to get_weather, got %v", fr)
	}
}

func TestConvertResponseTextMessage(t *testing.T) {
	raw := json.RawMessage(`{
		"candidates": [{
			"content": {"parts": [{"text": "hi there"}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 100, "cachedContentTokenCount": 40, "candidatesTokenCount": 12}
	}`)
	resp, err := ConvertResponse(raw, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content != "hi there" {
		t.Fatalf("content = %v, want %q", resp.Choices[0].Message.Content, "hi there")
	}
	if resp.Usage.PromptTokens != 60 {
		t.Fatalf("prompt tokens = %d, want 60 (100-40)", resp.Usage.PromptTokens)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish reason = %q, want stop", resp.Choices[0].FinishReason)
	}
}

func TestConvertResponseToolCall(t *testing.T) {
	raw := json.RawMessage(`{
		"candidates": [{
			"content": {"parts": [{"functionCall": {"name": "get_weather", "args": {"city": "nyc"}}}]},
			"finishReason": "STOP"
		}]
	}`)
	resp, err := ConvertResponse(raw, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp.Choices[0].Message)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("finish reason = %q, want tool_calls", resp.Choices[0].FinishReason)
	}
}
