package openai

import (
	"encoding/json"

	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

// ConvertResponse parses a non-streaming v1internal response body and
// converts it to the OpenAI chat completion shape. Grounded on the
// same response-unwrap/finish-reason/usage-accounting rules the Claude
// mapper's response.go applies, translated to OpenAI's field naming.
func ConvertResponse(body json.RawMessage, model string) (*ChatCompletionResponse, error) {
	var gr googleResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, err
	}
	return convertGoogleResponse(&gr, model), nil
}

func convertGoogleResponse(gr *googleResponse, model string) *ChatCompletionResponse {
	candidates, usage := unwrapResponse(gr)

	var first candidate
	if len(candidates) > 0 {
		first = candidates[0]
	}
	var parts []responsePart
	if first.Content != nil {
		parts = first.Content.Parts
	}

	text, toolCalls := convertResponseParts(parts)

	finishReason := "stop"
	switch first.FinishReason {
	case "MAX_TOKENS":
		finishReason = "length"
	default:
		if len(toolCalls) > 0 {
			finishReason = "tool_calls"
		}
	}

	msg := ChatMessage{Role: "assistant", Content: text}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
		msg.Content = nil
	}

	var chatUsage *ChatUsage
	if usage != nil {
		chatUsage = &ChatUsage{
			PromptTokens:     usage.PromptTokenCount - usage.CachedContentTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.PromptTokenCount - usage.CachedContentTokenCount + usage.CandidatesTokenCount,
		}
	}

	return &ChatCompletionResponse{
		ID:      "chatcmpl-" + model,
		Object:  "chat.completion",
		Model:   model,
		Choices: []Choice{{Index: 0, Message: msg, FinishReason: finishReason}},
		Usage:   chatUsage,
	}
}

func unwrapResponse(gr *googleResponse) ([]candidate, *usageMetadata) {
	if gr.Response != nil {
		return gr.Response.Candidates, gr.Response.UsageMetadata
	}
	return gr.Candidates, gr.UsageMetadata
}

func convertResponseParts(parts []responsePart) (string, []ToolCall) {
	var text string
	var calls []ToolCall
	for _, part := range parts {
		switch {
		case part.FunctionCall != nil:
			args := "{}"
			if part.FunctionCall.Args != nil {
				if b, err := json.Marshal(part.FunctionCall.Args); err == nil {
					args = string(b)
				}
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + part.FunctionCall.Name
			}
			calls = append(calls, ToolCall{
				ID:   id,
				Type: "function",
				Function: ToolCallFunction{
					Name:      part.FunctionCall.Name,
					Arguments: args,
				},
			})
		case part.Thought:
			// OpenAI's chat completion schema has no reasoning-content
			// field in this surface; thinking text is dropped rather
			// than leaked into the visible assistant message.
		case part.Text != "":
			text += part.Text
		}
	}
	return text, calls
}

// StreamChunks drains a streaming upstream call's decoded SSE events
// and emits OpenAI delta chunks as Gemini text arrives, closing with a
// finish_reason chunk. Like the Claude mapper's StreamEvents, each
// Gemini text delta is forwarded as its own chunk rather than
// accumulated first.
func StreamChunks(events <-chan upstream.Event, id, model string) <-chan ChatCompletionChunk {
	out := make(chan ChatCompletionChunk)
	go func() {
		defer close(out)
		finishReason := "stop"
		sawToolCall := false

		for ev := range events {
			var data googleResponse
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			candidates, _ := unwrapResponse(&data)
			if len(candidates) == 0 {
				continue
			}
			first := candidates[0]
			if first.FinishReason != "" {
				finishReason = finishReasonToOpenAI(first.FinishReason)
			}
			if first.Content == nil {
				continue
			}
			for _, part := range first.Content.Parts {
				switch {
				case part.Thought:
					continue
				case part.FunctionCall != nil:
					sawToolCall = true
					args := "{}"
					if part.FunctionCall.Args != nil {
						if b, err := json.Marshal(part.FunctionCall.Args); err == nil {
							args = string(b)
						}
					}
					callID := part.FunctionCall.ID
					if callID == "" {
						callID = "call_" + part.FunctionCall.Name
					}
					out <- ChatCompletionChunk{
						ID: id, Object: "chat.completion.chunk", Model: model,
						Choices: []ChunkChoice{{Index: 0, Delta: ChatMessage{
							Role: "assistant",
							ToolCalls: []ToolCall{{
								ID: callID, Type: "function",
								Function: ToolCallFunction{Name: part.FunctionCall.Name, Arguments: args},
							}},
						}}},
					}
				case part.Text != "":
					out <- ChatCompletionChunk{
						ID: id, Object: "chat.completion.chunk", Model: model,
						Choices: []ChunkChoice{{Index: 0, Delta: ChatMessage{Role: "assistant", Content: part.Text}}},
					}
				}
			}
		}

		if sawToolCall {
			finishReason = "tool_calls"
		}
		out <- ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Model: model,
			Choices: []ChunkChoice{{Index: 0, Delta: ChatMessage{}, FinishReason: finishReason}},
		}
	}()
	return out
}

func finishReasonToOpenAI(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	default:
		return "stop"
	}
}
