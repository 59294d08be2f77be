package router

import "testing"

func TestResolveModelExactCustomMapping(t *testing.T) {
	tables := Tables{Custom: map[string]string{"my-alias": "gemini-2.5-pro"}}
	if got := ResolveModel("my-alias", tables); got != "gemini-2.5-pro" {
		t.Fatalf("got %q, want gemini-2.5-pro", got)
	}
}

func TestResolveModelWildcardMapping(t *testing.T) {
	tables := Tables{Custom: map[string]string{"gpt-4*": "gemini-2.5-pro"}}
	if got := ResolveModel("gpt-4-turbo", tables); got != "gemini-2.5-pro" {
		t.Fatalf("got %q, want gemini-2.5-pro", got)
	}
}

func TestResolveModelWildcardSuffixOnly(t *testing.T) {
	tables := Tables{Custom: map[string]string{"*-thinking": "gemini-3-pro-preview"}}
	if got := ResolveModel("claude-opus-4-5-thinking", tables); got != "gemini-3-pro-preview" {
		t.Fatalf("got %q, want gemini-3-pro-preview", got)
	}
}

func TestResolveModelBuiltinFallback(t *testing.T) {
	tables := Tables{}
	tests := map[string]string{
		"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
		"gpt-4o":                     "gemini-2.5-pro",
		"gemini-2.5-pro":             "gemini-2.5-pro",
		"claude-opus-4-5-thinking":   "claude-opus-4-5-thinking",
		"unknown-model":              "unknown-model",
	}
	for in, want := range tests {
		if got := ResolveModel(in, tables); got != want {
			t.Errorf("ResolveModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveModelCustomWinsOverBuiltin(t *testing.T) {
	tables := Tables{Custom: map[string]string{"gpt-4o": "gemini-3-pro-preview"}}
	if got := ResolveModel("gpt-4o", tables); got != "gemini-3-pro-preview" {
		t.Fatalf("custom mapping should win: got %q", got)
	}
}

func TestResolveCapabilitiesWebSearchTopLevelName(t *testing.T) {
	tools := []map[string]interface{}{{"name": "web_search"}}
	cfg := ResolveCapabilities("gemini-1.5-pro", "gemini-1.5-pro", tools)
	if cfg.RequestType != RequestWebSearch {
		t.Fatalf("request type = %q, want web_search", cfg.RequestType)
	}
	if cfg.FinalModel != "gemini-2.5-flash" {
		t.Fatalf("final model = %q, want gemini-2.5-flash (downgrade)", cfg.FinalModel)
	}
	if !cfg.InjectGoogleSearch {
		t.Fatal("expected inject_google_search = true")
	}
}

func TestResolveCapabilitiesWebSearchFunctionDeclaration(t *testing.T) {
	tools := []map[string]interface{}{
		{
			"functionDeclarations": []interface{}{
				map[string]interface{}{"name": "web_search", "parameters": map[string]interface{}{}},
			},
		},
	}
	cfg := ResolveCapabilities("gemini-1.5-pro", "gemini-1.5-pro", tools)
	if cfg.RequestType != RequestWebSearch {
		t.Fatalf("request type = %q, want web_search", cfg.RequestType)
	}
	if cfg.FinalModel != "gemini-2.5-flash" {
		t.Fatalf("final model = %q, want gemini-2.5-flash", cfg.FinalModel)
	}
}

func TestResolveCapabilitiesImageGen(t *testing.T) {
	cfg := ResolveCapabilities("gemini-3-pro-image", "gemini-3-pro-image-2k-16x9", nil)
	if cfg.RequestType != RequestImageGen {
		t.Fatalf("request type = %q, want image_gen", cfg.RequestType)
	}
	if cfg.ImageConfig == nil {
		t.Fatal("expected a non-nil image config")
	}
	if cfg.ImageConfig.Resolution != "2k" {
		t.Fatalf("resolution = %q, want 2k", cfg.ImageConfig.Resolution)
	}
	if cfg.ImageConfig.AspectRatio != "16x9" {
		t.Fatalf("aspect ratio = %q, want 16x9", cfg.ImageConfig.AspectRatio)
	}
}

func TestResolveCapabilitiesPlainText(t *testing.T) {
	cfg := ResolveCapabilities("claude-sonnet-4-5", "claude-sonnet-4-5", nil)
	if cfg.RequestType != RequestText {
		t.Fatalf("request type = %q, want text", cfg.RequestType)
	}
	if cfg.ImageConfig != nil {
		t.Fatal("plain text requests should not carry an image config")
	}
}
