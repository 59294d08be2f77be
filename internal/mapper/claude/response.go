package claude

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

// googleResponse is the Gemini-shaped response body v1internal
// returns, either bare or wrapped under a "response" envelope field
// depending on which endpoint answered. Grounded on
// response_converter.GoogleResponse.
type googleResponse struct {
	Response      *googleResponseInner `json:"response,omitempty"`
	Candidates    []candidate          `json:"candidates,omitempty"`
	UsageMetadata *usageMetadata       `json:"usageMetadata,omitempty"`
}

type googleResponseInner struct {
	Candidates    []candidate    `json:"candidates,omitempty"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      *candidateContent `json:"content,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

type candidateContent struct {
	Parts []responsePart `json:"parts,omitempty"`
	Role  string         `json:"role,omitempty"`
}

type responsePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *responseFuncCall `json:"functionCall,omitempty"`
	InlineData       *inlineData       `json:"inlineData,omitempty"`
}

type responseFuncCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// ConvertResponse parses a non-streaming v1internal response body and
// converts it to the Anthropic Messages API shape, caching any
// thoughtSignature seen along the way so a later turn can replay it.
// Grounded on response_converter.ConvertGoogleToAnthropic.
func ConvertResponse(body json.RawMessage, model string, cache signatureCache) (*anthropic.MessagesResponse, error) {
	var gr googleResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, err
	}
	return convertGoogleResponse(&gr, model, cache), nil
}

func convertGoogleResponse(gr *googleResponse, model string, cache signatureCache) *anthropic.MessagesResponse {
	var candidates []candidate
	var usage *usageMetadata
	if gr.Response != nil {
		candidates = gr.Response.Candidates
		usage = gr.Response.UsageMetadata
	} else {
		candidates = gr.Candidates
		usage = gr.UsageMetadata
	}

	var first candidate
	if len(candidates) > 0 {
		first = candidates[0]
	}
	var parts []responsePart
	if first.Content != nil {
		parts = first.Content.Parts
	}

	content, hasToolCalls := convertResponseParts(parts, model, cache)

	stopReason := "end_turn"
	switch first.FinishReason {
	case "MAX_TOKENS":
		stopReason = "max_tokens"
	case "TOOL_USE":
		stopReason = "tool_use"
	default:
		if hasToolCalls {
			stopReason = "tool_use"
		}
	}

	var promptTokens, cachedTokens, outputTokens int
	if usage != nil {
		promptTokens = usage.PromptTokenCount
		cachedTokens = usage.CachedContentTokenCount
		outputTokens = usage.CandidatesTokenCount
	}

	if len(content) == 0 {
		content = append(content, anthropic.ContentBlock{Type: "text", Text: ""})
	}

	return &anthropic.MessagesResponse{
		ID:         "msg_" + generateRandomHex(16),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage: &anthropic.Usage{
			InputTokens:          promptTokens - cachedTokens,
			OutputTokens:         outputTokens,
			CacheReadInputTokens: cachedTokens,
		},
	}
}

// convertResponseParts converts the parts of one candidate to Anthropic
// content blocks, caching a thinking block's origin family and a
// tool_use block's thoughtSignature as it goes so both survive a
// later round trip even if the client strips them before replay.
func convertResponseParts(parts []responsePart, model string, cache signatureCache) ([]anthropic.ContentBlock, bool) {
	content := make([]anthropic.ContentBlock, 0, len(parts))
	hasToolCalls := false

	for _, part := range parts {
		switch {
		case part.Text != "" && part.Thought:
			sig := part.ThoughtSignature
			if len(sig) >= config.MinSignatureLength {
				cache.CacheSignatureFamily(sig, string(config.GetModelFamily(model)))
				cache.StoreThoughtSignature(sig)
			}
			content = append(content, anthropic.ContentBlock{
				Type:      "thinking",
				Thinking:  part.Text,
				Signature: sig,
			})

		case part.Text != "":
			content = append(content, anthropic.ContentBlock{Type: "text", Text: part.Text})

		case part.FunctionCall != nil:
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
			block := anthropic.ContentBlock{
				Type:  "tool_use",
				ID:    toolID,
				Name:  part.FunctionCall.Name,
				Input: input,
			}
			if len(part.ThoughtSignature) >= config.MinSignatureLength {
				block.ThoughtSignature = part.ThoughtSignature
				cache.CacheToolSignature(toolID, part.ThoughtSignature)
				cache.StoreThoughtSignature(part.ThoughtSignature)
			}
			content = append(content, block)
			hasToolCalls = true

		case part.InlineData != nil:
			content = append(content, anthropic.ContentBlock{
				Type: "image",
				Source: &anthropic.ImageSource{
					Type:      "base64",
					MediaType: part.InlineData.MimeType,
					Data:      part.InlineData.Data,
				},
			})
		}
	}

	return content, hasToolCalls
}

// AccumulateStream drains a streaming upstream call's decoded SSE
// events into a single final response, splitting runs of thinking
// text and plain text on type transitions the same way a buffered
// non-streaming call would have arrived. No handler in this module
// calls it: the Messages handler streams through StreamEvents and
// answers non-streaming requests with ConvertResponse. This function
// only owns the Google-to-Anthropic shape translation. Grounded on cloudcode.ParseThinkingSSEResponse.
func AccumulateStream(events <-chan upstream.Event, model string, cache signatureCache) (*anthropic.MessagesResponse, error) {
	var thinkingText, thinkingSig, plainText string
	var parts []responsePart
	usage := &usageMetadata{}
	finishReason := "STOP"

	flushThinking := func() {
		if thinkingText != "" {
			parts = append(parts, responsePart{Thought: true, Text: thinkingText, ThoughtSignature: thinkingSig})
			thinkingText, thinkingSig = "", ""
		}
	}
	flushText := func() {
		if plainText != "" {
			parts = append(parts, responsePart{Text: plainText})
			plainText = ""
		}
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
			switch {
			case part.Thought:
				flushText()
				thinkingText += part.Text
				if part.ThoughtSignature != "" {
					thinkingSig = part.ThoughtSignature
				}
			case part.FunctionCall != nil:
				flushThinking()
				flushText()
				parts = append(parts, part)
			case part.Text != "":
				flushThinking()
				plainText += part.Text
			case part.InlineData != nil:
				flushThinking()
				flushText()
				parts = append(parts, part)
			}
		}
	}
	flushThinking()
	flushText()

	gr := &googleResponse{
		Candidates: []candidate{{
			Content:      &candidateContent{Parts: parts},
			FinishReason: finishReason,
		}},
		UsageMetadata: usage,
	}
	return convertGoogleResponse(gr, model, cache), nil
}

// generateRandomHex returns n random bytes hex-encoded, used for
// synthetic message/tool-use ids when the upstream doesn't supply one.
func generateRandomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
