package upstream

import (
	"net/http"
	"testing"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

func TestMapModelForZaiExplicitMapping(t *testing.T) {
	zai := config.ZaiConfig{ModelMapping: map[string]string{"claude-opus-4-5": "glm-4.6"}}
	if got := MapModelForZai("claude-opus-4-5", zai); got != "glm-4.6" {
		t.Fatalf("got %q, want glm-4.6", got)
	}
}

func TestMapModelForZaiPassthroughPrefixes(t *testing.T) {
	zai := config.ZaiConfig{}
	if got := MapModelForZai("zai:glm-4.6-air", zai); got != "glm-4.6-air" {
		t.Fatalf("zai: prefix not stripped: %q", got)
	}
	if got := MapModelForZai("glm-4.6", zai); got != "glm-4.6" {
		t.Fatalf("glm- prefix should pass through unchanged: %q", got)
	}
	if got := MapModelForZai("gpt-4o", zai); got != "gpt-4o" {
		t.Fatalf("non-claude model should pass through unchanged: %q", got)
	}
}

func TestMapModelForZaiClaudeTierFallback(t *testing.T) {
	zai := config.ZaiConfig{Opus: "glm-opus", Sonnet: "glm-sonnet", Haiku: "glm-haiku"}
	tests := map[string]string{
		"claude-opus-4-5":   "glm-opus",
		"claude-haiku-4-5":  "glm-haiku",
		"claude-sonnet-4-5": "glm-sonnet",
	}
	for model, want := range tests {
		if got := MapModelForZai(model, zai); got != want {
			t.Errorf("MapModelForZai(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestJoinBaseURL(t *testing.T) {
	tests := []struct{ base, path, want string }{
		{"https://api.z.ai/api/anthropic", "/v1/messages", "https://api.z.ai/api/anthropic/v1/messages"},
		{"https://api.z.ai/api/anthropic/", "v1/messages", "https://api.z.ai/api/anthropic/v1/messages"},
	}
	for _, tt := range tests {
		if got := joinBaseURL(tt.base, tt.path); got != tt.want {
			t.Errorf("joinBaseURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestCopyPassthroughHeadersDropsProxyKey(t *testing.T) {
	incoming := http.Header{}
	incoming.Set("X-API-Key", "relay-secret")
	incoming.Set("Content-Type", "application/json")
	incoming.Set("Anthropic-Version", "2023-06-01")

	out := copyPassthroughHeaders(incoming)
	if out.Get("X-API-Key") != "" {
		t.Fatal("the relay's own API key must never be forwarded")
	}
	if out.Get("Content-Type") != "application/json" {
		t.Fatal("content-type should be forwarded")
	}
	if out.Get("Anthropic-Version") != "2023-06-01" {
		t.Fatal("anthropic-version should be forwarded")
	}
}

func TestSetZaiAuthPrefersXAPIKey(t *testing.T) {
	incoming := http.Header{}
	incoming.Set("x-api-key", "client-key")
	out := http.Header{}
	setZaiAuth(out, incoming, "real-zai-key")
	if out.Get("x-api-key") != "real-zai-key" {
		t.Fatalf("x-api-key = %q, want real-zai-key", out.Get("x-api-key"))
	}
	if out.Get("Authorization") != "" {
		t.Fatal("should not set Authorization when client used x-api-key")
	}
}

func TestSetZaiAuthFallsBackToBearer(t *testing.T) {
	incoming := http.Header{}
	incoming.Set("Authorization", "Bearer client-token")
	out := http.Header{}
	setZaiAuth(out, incoming, "real-zai-key")
	if out.Get("Authorization") != "Bearer real-zai-key" {
		t.Fatalf("Authorization = %q, want Bearer real-zai-key", out.Get("Authorization"))
	}
}

func TestDeepRemoveCacheControl(t *testing.T) {
	body := map[string]interface{}{
		"model": "claude-opus-4-5",
		"messages": []interface{}{
			map[string]interface{}{
				"role": "user",
				"content": []interface{}{
					map[string]interface{}{"type": "text", "text": "hi", "cache_control": map[string]interface{}{"type": "ephemeral"}},
				},
				"cache_control": map[string]interface{}{"type": "ephemeral"},
			},
		},
	}

	deepRemoveCacheControl(body)

	messages := body["messages"].([]interface{})
	msg := messages[0].(map[string]interface{})
	if _, ok := msg["cache_control"]; ok {
		t.Fatal("cache_control should be removed from the message")
	}
	content := msg["content"].([]interface{})[0].(map[string]interface{})
	if _, ok := content["cache_control"]; ok {
		t.Fatal("cache_control should be removed from nested content blocks")
	}
}
