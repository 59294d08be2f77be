package gemini

import (
	"encoding/json"
	"testing"

	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
)

func TestBuildRequestPassesBodyThrough(t *testing.T) {
	body := map[string]interface{}{
		"contents": []interface{}{
			map[string]interface{}{"role": "user", "parts": []interface{}{map[string]interface{}{"text": "hi"}}},
		},
	}
	out, caps := BuildRequest("gemini-2.5-pro", body, router.Tables{})
	if caps.RequestType != router.RequestText {
		t.Fatalf("request type = %q, want text", caps.RequestType)
	}
	if _, ok := out["contents"]; !ok {
		t.Fatalf("expected contents preserved, got %v", out)
	}
}

func TestBuildRequestWebSearchDowngrade(t *testing.T) {
	body := map[string]interface{}{
		"contents": []interface{}{},
		"tools": []interface{}{
			map[string]interface{}{"functionDeclarations": []interface{}{
				map[string]interface{}{"name": "web_search"},
			}},
		},
	}
	out, caps := BuildRequest("gemini-1.5-pro", body, router.Tables{})
	if caps.FinalModel != "gemini-2.5-flash" {
		t.Fatalf("final model = %q, want downgrade", caps.FinalModel)
	}
	tools, ok := out["tools"].([]interface{})
	if !ok || len(tools) != 2 {
		t.Fatalf("expected google_search tool appended, got %v", out["tools"])
	}
}

func TestUnwrapResponsePeelsEnvelope(t *testing.T) {
	raw := json.RawMessage(`{"response": {"candidates": [{"content": {"parts": [{"text": "hi"}]}}]}}`)
	out, err := UnwrapResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("unwrapped response not valid JSON: %v", err)
	}
	if _, ok := parsed["candidates"]; !ok {
		t.Fatalf("expected candidates at top level after unwrap, got %v", parsed)
	}
}

func TestUnwrapResponsePassesThroughBareShape(t *testing.T) {
	raw := json.RawMessage(`{"candidates": [{"content": {"parts": [{"text": "hi"}]}}]}`)
	out, err := UnwrapResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(raw) {
		t.Fatalf("expected bare shape passed through unchanged, got %s", out)
	}
}
