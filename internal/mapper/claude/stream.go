package claude

import (
	"encoding/json"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

// blockState tracks the content block currently open on the outgoing
// Anthropic stream so StreamEvents knows when a type change (thinking
// -> text, text -> tool_use, ...) requires closing one block and
// opening the next.
type blockState struct {
	open      bool
	index     int
	blockType string
	signature string
}

// StreamEvents re-emits a streaming v1internal call as a live sequence
// of Anthropic SSE events, opening and closing content blocks as the
// underlying part type changes rather than waiting for the stream to
// finish. Grounded on cloudcode.StreamSSEResponse, adapted to this
// package's typed anthropic.SSEEvent/ContentDelta instead of the
// teacher's map[string]interface{} delta payload.
func StreamEvents(events <-chan upstream.Event, model string, cache signatureCache) <-chan *anthropic.SSEEvent {
	out := make(chan *anthropic.SSEEvent)

	go func() {
		defer close(out)

		messageID := "msg_" + generateRandomHex(16)
		started := false
		state := blockState{index: -1}
		finishReason := "STOP"
		usage := &usageMetadata{}
		hasToolCalls := false

		ensureStarted := func() {
			if started {
				return
			}
			started = true
			out <- &anthropic.SSEEvent{
				Type: anthropic.SSEEventMessageStart,
				Message: &anthropic.MessagesResponse{
					ID:      messageID,
					Type:    "message",
					Role:    "assistant",
					Content: []anthropic.ContentBlock{},
					Model:   model,
					Usage:   &anthropic.Usage{},
				},
			}
		}

		closeBlock := func() {
			if !state.open {
				return
			}
			if state.blockType == "thinking" && state.signature != "" {
				out <- &anthropic.SSEEvent{
					Type:  anthropic.SSEEventContentBlockDelta,
					Index: state.index,
					Delta: &anthropic.ContentDelta{Type: "signature_delta", Signature: state.signature},
				}
			}
			out <- &anthropic.SSEEvent{Type: anthropic.SSEEventContentBlockStop, Index: state.index}
			state = blockState{index: state.index}
		}

		openBlock := func(blockType string, block anthropic.ContentBlock) {
			state.open = true
			state.index++
			state.blockType = blockType
			state.signature = ""
			out <- &anthropic.SSEEvent{
				Type:         anthropic.SSEEventContentBlockStart,
				Index:        state.index,
				ContentBlock: &block,
			}
		}

		emitThinking := func(part responsePart) {
			if state.blockType != "thinking" {
				closeBlock()
				openBlock("thinking", anthropic.ContentBlock{Type: "thinking"})
			}
			if part.Text != "" {
				out <- &anthropic.SSEEvent{
					Type:  anthropic.SSEEventContentBlockDelta,
					Index: state.index,
					Delta: &anthropic.ContentDelta{Type: "thinking_delta", Thinking: part.Text},
				}
			}
			if len(part.ThoughtSignature) >= config.MinSignatureLength {
				state.signature = part.ThoughtSignature
				cache.CacheSignatureFamily(part.ThoughtSignature, string(config.GetModelFamily(model)))
				cache.StoreThoughtSignature(part.ThoughtSignature)
			}
		}

		emitText := func(part responsePart) {
			if state.blockType != "text" {
				closeBlock()
				openBlock("text", anthropic.ContentBlock{Type: "text"})
			}
			out <- &anthropic.SSEEvent{
				Type:  anthropic.SSEEventContentBlockDelta,
				Index: state.index,
				Delta: &anthropic.ContentDelta{Type: "text_delta", Text: part.Text},
			}
		}

		emitToolUse := func(part responsePart) {
			closeBlock()
			hasToolCalls = true
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = "toolu_" + generateRandomHex(12)
			}
			var input json.RawMessage
			if part.FunctionCall.Args != nil {
				input, _ = json.Marshal(part.FunctionCall.Args)
			} else {
				input = json.RawMessage("{}")
			}
			block := anthropic.ContentBlock{Type: "tool_use", ID: toolID, Name: part.FunctionCall.Name, Input: json.RawMessage("{}")}
			if len(part.ThoughtSignature) >= config.MinSignatureLength {
				block.ThoughtSignature = part.ThoughtSignature
				cache.CacheToolSignature(toolID, part.ThoughtSignature)
				cache.StoreThoughtSignature(part.ThoughtSignature)
			}
			openBlock("tool_use", block)
			out <- &anthropic.SSEEvent{
				Type:  anthropic.SSEEventContentBlockDelta,
				Index: state.index,
				Delta: &anthropic.ContentDelta{Type: "input_json_delta", PartialJSON: string(input)},
			}
			closeBlock()
		}

		emitImage := func(part responsePart) {
			closeBlock()
			openBlock("image", anthropic.ContentBlock{
				Type: "image",
				Source: &anthropic.ImageSource{
					Type:      "base64",
					MediaType: part.InlineData.MimeType,
					Data:      part.InlineData.Data,
				},
			})
			closeBlock()
		}

		for ev := range events {
			var data googleResponse
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			inner := data.Response
			if inner == nil {
				inner = &googleResponseInner{Candidates: data.Candidates, UsageMetadata: data.UsageMetadata}
			}
			if inner.UsageMetadata != nil {
				usage = inner.UsageMetadata
			}
			if len(inner.Candidates) == 0 {
				continue
			}
			first := inner.Candidates[0]
			if first.FinishReason != "" {
				finishReason = first.FinishReason
			}
			if first.Content == nil {
				continue
			}
			for _, part := range first.Content.Parts {
				ensureStarted()
				switch {
				case part.Thought:
					emitThinking(part)
				case part.FunctionCall != nil:
					emitToolUse(part)
				case part.Text != "":
					emitText(part)
				case part.InlineData != nil:
					emitImage(part)
				}
			}
		}

		ensureStarted()
		closeBlock()

		stopReason := "end_turn"
		switch finishReason {
		case "MAX_TOKENS":
			stopReason = "max_tokens"
		default:
			if hasToolCalls {
				stopReason = "tool_use"
			}
		}

		out <- &anthropic.SSEEvent{
			Type:  anthropic.SSEEventMessageDelta,
			Delta: &anthropic.ContentDelta{StopReason: stopReason},
			Usage: &anthropic.Usage{
				InputTokens:          usage.PromptTokenCount - usage.CachedContentTokenCount,
				OutputTokens:         usage.CandidatesTokenCount,
				CacheReadInputTokens: usage.CachedContentTokenCount,
			},
		}
		out <- &anthropic.SSEEvent{Type: anthropic.SSEEventMessageStop}
	}()

	return out
}
