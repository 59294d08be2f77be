package claude

import (
	"strings"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

// convertRole maps an Anthropic turn role to Gemini's contents[].role
// vocabulary. Grounded on content_converter.ConvertRole.
func convertRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// convertContentToParts turns one Anthropic message's content blocks
// into Gemini parts. isClaudeModel/isGeminiModel select family-specific
// behavior: Claude targets want tool_use/tool_result ids preserved
// so signature caching round-trips; Gemini targets want a
// thoughtSignature on every functionCall part, falling back to the
// cache and finally to the skip-validation sentinel. Grounded on
// content_converter.ConvertContentToParts.
func convertContentToParts(content []block, isClaudeModel, isGeminiModel bool, cache signatureCache) []googlePart {
	parts := make([]googlePart, 0, len(content))
	var deferred []googlePart

	for _, b := range content {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, googlePart{Text: b.Text})
			}

		case "image":
			if b.Source != nil {
				parts = append(parts, mediaPart(b.Source, "image/jpeg"))
			}

		case "document":
			if b.Source != nil {
				parts = append(parts, mediaPart(b.Source, "application/pdf"))
			}

		case "tool_use":
			fc := &functionCall{Name: b.Name, Args: b.Input}
			if isClaudeModel && b.ID != "" {
				fc.ID = b.ID
			}
			part := googlePart{FunctionCall: fc}
			if isGeminiModel {
				sig := b.ThoughtSignature
				if sig == "" && b.ID != "" {
					sig = cache.GetToolSignature(b.ID)
				}
				if sig == "" {
					sig = config.GeminiSkipSignature
				}
				part.ThoughtSignature = sig
			}
			parts = append(parts, part)

		case "tool_result":
			responseContent, images := toolResultResponse(b.Content)
			name := b.ToolUseID
			if name == "" {
				name = "unknown"
			}
			fr := &functionResponse{Name: name, Response: responseContent}
			if isClaudeModel && b.ToolUseID != "" {
				fr.ID = b.ToolUseID
			}
			parts = append(parts, googlePart{FunctionResponse: fr})
			deferred = append(deferred, images...)

		case "thinking":
			if !hasValidSignature(b) {
				continue
			}
			family := cache.GetSignatureFamily(b.Signature)
			var target string
			if isClaudeModel {
				target = string(config.FamilyClaude)
			} else if isGeminiModel {
				target = string(config.FamilyGemini)
			}
			if isGeminiModel && target != "" {
				if family != "" && family != target {
					continue
				}
				if family == "" {
					continue
				}
			}
			parts = append(parts, googlePart{
				Text:             b.Thinking,
				Thought:          true,
				ThoughtSignature: b.Signature,
			})
		}
	}

	parts = append(parts, deferred...)
	return parts
}

func mediaPart(src *imageSource, defaultMime string) googlePart {
	if src.Type == "base64" {
		return googlePart{InlineData: &inlineData{MimeType: src.MediaType, Data: src.Data}}
	}
	mimeType := src.MediaType
	if mimeType == "" {
		mimeType = defaultMime
	}
	return googlePart{FileData: &fileData{MimeType: mimeType, FileURI: src.URL}}
}

// toolResultResponse normalizes a tool_result block's polymorphic
// content field (string, array of typed blocks, or raw decoded JSON
// array) into a Gemini functionResponse payload, pulling out any
// images to be appended at the end of the parts array per the
// upstream's ordering quirk around inline image placement.
func toolResultResponse(content interface{}) (map[string]interface{}, []googlePart) {
	response := make(map[string]interface{})
	var images []googlePart

	switch c := content.(type) {
	case nil:
		response["result"] = ""
	case string:
		response["result"] = c
	case []interface{}:
		var texts []string
		for _, item := range c {
			itemMap, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch itemMap["type"] {
			case "image":
				if source, ok := itemMap["source"].(map[string]interface{}); ok && source["type"] == "base64" {
					mimeType, _ := source["media_type"].(string)
					data, _ := source["data"].(string)
					images = append(images, googlePart{InlineData: &inlineData{MimeType: mimeType, Data: data}})
				}
			case "text":
				if text, ok := itemMap["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
		response["result"] = toolResultText(texts, images)
	case []block:
		var texts []string
		for _, item := range c {
			if item.Type == "image" && item.Source != nil && item.Source.Type == "base64" {
				images = append(images, googlePart{InlineData: &inlineData{MimeType: item.Source.MediaType, Data: item.Source.Data}})
			} else if item.Type == "text" {
				texts = append(texts, item.Text)
			}
		}
		response["result"] = toolResultText(texts, images)
	default:
		response["result"] = ""
	}

	return response, images
}

func toolResultText(texts []string, images []googlePart) string {
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	if len(images) > 0 {
		return "Image attached"
	}
	return ""
}

// convertStringContentToParts wraps a plain string message body (the
// shape a system prompt or a legacy single-string user turn takes) in
// a single text part.
func convertStringContentToParts(content string) []googlePart {
	return []googlePart{{Text: content}}
}
