package audio

import (
	"encoding/json"
	"testing"
)

func TestDetectMIMEType(t *testing.T) {
	cases := map[string]string{
		"recording.mp3": "audio/mp3",
		"voice.WAV":     "audio/wav",
		"clip.m4a":      "audio/aac",
		"note.ogg":      "audio/ogg",
	}
	for name, want := range cases {
		got, err := DetectMIMEType(name)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s: mime = %q, want %q", name, got, want)
		}
	}
}

func TestDetectMIMETypeRejectsUnsupported(t *testing.T) {
	if _, err := DetectMIMEType("notes.txt"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestExceedsSizeLimit(t *testing.T) {
	if ExceedsSizeLimit(15 * 1024 * 1024) {
		t.Fatal("exactly 15MB should not exceed the limit")
	}
	if !ExceedsSizeLimit(15*1024*1024 + 1) {
		t.Fatal("one byte over 15MB should exceed the limit")
	}
}

func TestBuildRequestShape(t *testing.T) {
	req := BuildRequest("transcribe this", "audio/mp3", []byte("fake-audio"))
	contents := req["contents"].([]interface{})
	parts := contents[0].(map[string]interface{})["parts"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("expected prompt + inlineData parts, got %d", len(parts))
	}
	inline := parts[1].(map[string]interface{})["inlineData"].(map[string]interface{})
	if inline["mimeType"] != "audio/mp3" {
		t.Fatalf("mime type = %v, want audio/mp3", inline["mimeType"])
	}
}

func TestConvertResponseUnwrapsEnvelope(t *testing.T) {
	raw := json.RawMessage(`{"response": {"candidates": [{"content": {"parts": [{"text": "hello world"}]}}]}}`)
	text, err := ConvertResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q, want %q", text, "hello world")
	}
}

func TestConvertResponseBareShape(t *testing.T) {
	raw := json.RawMessage(`{"candidates": [{"content": {"parts": [{"text": "bare"}]}}]}`)
	text, err := ConvertResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "bare" {
		t.Fatalf("text = %q, want %q", text, "bare")
	}
}
