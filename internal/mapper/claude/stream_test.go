package claude

import (
	"encoding/json"
	"testing"

	"github.com/kestrelmux/antigravity-relay/internal/signature"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

func collectStream(events []upstream.Event, model string) []*anthropic.SSEEvent {
	in := make(chan upstream.Event, len(events))
	for _, ev := range events {
		in <- ev
	}
	close(in)

	var out []*anthropic.SSEEvent
	for ev := range StreamEvents(in, model, signature.New()) {
		out = append(out, ev)
	}
	return out
}

func TestStreamEventsTextRunProducesSingleBlock(t *testing.T) {
	frame := func(text string) upstream.Event {
		raw, _ := json.Marshal(map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"content": map[string]interface{}{"parts": []map[string]interface{}{{"text": text}}},
			}},
		})
		return upstream.Event{Data: raw}
	}
	events := collectStream([]upstream.Event{frame("hel"), frame("lo")}, "claude-sonnet-4-5")

	var starts, stops, deltas int
	for _, ev := range events {
		switch ev.Type {
		case anthropic.SSEEventContentBlockStart:
			starts++
		case anthropic.SSEEventContentBlockStop:
			stops++
		case anthropic.SSEEventContentBlockDelta:
			deltas++
		}
	}
	if starts != 1 || stops != 1 {
		t.Fatalf("expected exactly one text block, got %d starts / %d stops", starts, stops)
	}
	if deltas != 2 {
		t.Fatalf("expected one delta per frame, got %d", deltas)
	}
	if events[0].Type != anthropic.SSEEventMessageStart {
		t.Fatalf("first event = %q, want message_start", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != anthropic.SSEEventMessageStop {
		t.Fatalf("last event = %q, want message_stop", last.Type)
	}
}

func TestStreamEventsThinkingThenTextSplitsBlocks(t *testing.T) {
	sig := "01234567890123456789012345678901234567890123456789012"
	raw1, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{"parts": []map[string]interface{}{
				{"text": "thinking...", "thought": true, "thoughtSignature": sig},
			}},
		}},
	})
	raw2, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content":      map[string]interface{}{"parts": []map[string]interface{}{{"text": "answer"}}},
			"finishReason": "STOP",
		}},
	})
	events := collectStream([]upstream.Event{{Data: raw1}, {Data: raw2}}, "gemini-3-pro-preview")

	var types []anthropic.SSEEventType
	var sawSignatureDelta bool
	for _, ev := range events {
		types = append(types, ev.Type)
		if ev.Type == anthropic.SSEEventContentBlockDelta && ev.Delta.Type == "signature_delta" {
			sawSignatureDelta = true
		}
	}
	if !sawSignatureDelta {
		t.Fatal("expected a signature_delta closing the thinking block")
	}

	var blockStarts int
	for _, ev := range events {
		if ev.Type == anthropic.SSEEventContentBlockStart {
			blockStarts++
		}
	}
	if blockStarts != 2 {
		t.Fatalf("expected thinking and text to open separate blocks, got %d", blockStarts)
	}
}

func TestStreamEventsToolUseEmitsCompleteBlock(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{"parts": []map[string]interface{}{{
				"functionCall": map[string]interface{}{"name": "get_weather", "args": map[string]interface{}{"city": "nyc"}},
			}}},
			"finishReason": "TOOL_USE",
		}},
	})
	events := collectStream([]upstream.Event{{Data: raw}}, "claude-sonnet-4-5")

	var sawToolBlock bool
	var finalStopReason string
	for _, ev := range events {
		if ev.Type == anthropic.SSEEventContentBlockStart && ev.ContentBlock.Type == "tool_use" {
			sawToolBlock = true
		}
		if ev.Type == anthropic.SSEEventMessageDelta {
			finalStopReason = ev.Delta.StopReason
		}
	}
	if !sawToolBlock {
		t.Fatal("expected a tool_use content_block_start")
	}
	if finalStopReason != "tool_use" {
		t.Fatalf("stop reason = %q, want tool_use", finalStopReason)
	}
}
