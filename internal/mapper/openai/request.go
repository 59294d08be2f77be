package openai

import (
	"encoding/json"
	"strings"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/schema"
)

// BuildRequest converts an OpenAI-shaped chat completion request into
// the Gemini-shaped map this relay sends inside a v1internal envelope.
// Grounded on the role/content translation CLIProxyAPI's openai
// handlers delegate to its translator package (not itself part of the
// retrieval pack), reimplemented here against this relay's own
// mapper/router/schema packages and routed through the same model
// router the Claude mapper uses.
func BuildRequest(req *ChatCompletionRequest, tables router.Tables) (body map[string]interface{}, caps router.Capabilities) {
	mapped := router.ResolveModel(req.Model, tables)
	caps = router.ResolveCapabilities(req.Model, mapped, openaiToolsAsMaps(req.Tools))
	finalModel := caps.FinalModel
	isGemini := config.GetModelFamily(finalModel) == config.FamilyGemini

	gr := &googleRequest{GenerationConfig: &generationConfig{}}

	callNames := make(map[string]string)
	for _, m := range req.Messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Function.Name
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if text := contentText(m.Content); text != "" {
				gr.SystemInstruction = appendPart(gr.SystemInstruction, googlePart{Text: text})
			}
		case "tool":
			name := callNames[m.ToolCallID]
			gr.Contents = append(gr.Contents, googleContent{
				Role:  "user",
				Parts: []googlePart{toolResponsePart(name, m.ToolCallID, m.Content)},
			})
		default:
			parts := convertMessageParts(m)
			if len(parts) == 0 {
				parts = []googlePart{{Text: "."}}
			}
			gr.Contents = append(gr.Contents, googleContent{
				Role:  convertRole(m.Role),
				Parts: parts,
			})
		}
	}

	if req.MaxTokens > 0 {
		gr.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	gr.GenerationConfig.Temperature = req.Temperature
	gr.GenerationConfig.TopP = req.TopP
	if len(req.Stop) > 0 {
		gr.GenerationConfig.StopSequences = req.Stop
	}
	if isGemini && gr.GenerationConfig.MaxOutputTokens > config.GeminiMaxOutputTokens {
		gr.GenerationConfig.MaxOutputTokens = config.GeminiMaxOutputTokens
	}

	if len(req.Tools) > 0 {
		gr.Tools = []googleTool{{FunctionDeclarations: buildFunctionDeclarations(req.Tools)}}
	}

	body = toMap(gr)
	if caps.InjectGoogleSearch {
		injectGoogleSearchTool(body)
	}
	if caps.ImageConfig != nil {
		injectImageConfig(body, caps.ImageConfig)
	}
	return body, caps
}

func convertRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func openaiToolsAsMaps(tools []Tool) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{"name": t.Function.Name})
	}
	return out
}

func appendPart(c *googleContent, p googlePart) *googleContent {
	if c == nil {
		return &googleContent{Parts: []googlePart{p}}
	}
	c.Parts = append(c.Parts, p)
	return c
}

// contentText extracts the plain-text reading of a ChatMessage's
// Content field, which OpenAI allows as either a bare string or an
// array of typed content parts.
func contentText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var b strings.Builder
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					if b.Len() > 0 {
						b.WriteString("\n")
					}
					b.WriteString(text)
				}
			}
		}
		return b.String()
	default:
		return ""
	}
}

// convertMessageParts converts one chat message's content (and any
// assistant tool_calls) into Gemini parts. Multimodal image_url blocks
// become inline image parts when carrying a data: URL, else a
// file-reference part.
func convertMessageParts(m ChatMessage) []googlePart {
	var parts []googlePart

	switch v := m.Content.(type) {
	case string:
		if v != "" {
			parts = append(parts, googlePart{Text: v})
		}
	case []interface{}:
		for _, item := range v {
			cm, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch cm["type"] {
			case "text":
				if text, ok := cm["text"].(string); ok && text != "" {
					parts = append(parts, googlePart{Text: text})
				}
			case "image_url":
				if urlMap, ok := cm["image_url"].(map[string]interface{}); ok {
					if url, ok := urlMap["url"].(string); ok {
						parts = append(parts, imagePart(url))
					}
				}
			}
		}
	}

	for _, tc := range m.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		parts = append(parts, googlePart{FunctionCall: &functionCall{
			Name: tc.Function.Name,
			Args: args,
			ID:   tc.ID,
		}})
	}

	return parts
}

// imagePart converts an OpenAI image_url value to a Gemini part: a
// data: URL becomes inline base64 bytes, anything else becomes a
// remote file reference.
func imagePart(url string) googlePart {
	if strings.HasPrefix(url, "data:") {
		rest := strings.TrimPrefix(url, "data:")
		segments := strings.SplitN(rest, ",", 2)
		if len(segments) == 2 {
			mimeType := strings.TrimSuffix(segments[0], ";base64")
			return googlePart{InlineData: &inlineData{MimeType: mimeType, Data: segments[1]}}
		}
	}
	return googlePart{FileData: &fileData{MimeType: "image/jpeg", FileURI: url}}
}

// toolResponsePart builds the functionResponse part a "tool" role
// message translates to, mirroring the Claude mapper's tool_result
// handling: the response payload is whatever text the tool returned,
// wrapped under an "output" key since Gemini expects a structured
// response object rather than a bare string.
func toolResponsePart(name, id string, content interface{}) googlePart {
	text := contentText(content)
	return googlePart{FunctionResponse: &functionResponse{
		Name:     name,
		ID:       id,
		Response: map[string]interface{}{"output": text},
	}}
}

func buildFunctionDeclarations(tools []Tool) []functionDeclaration {
	decls := make([]functionDeclaration, 0, len(tools))
	for _, t := range tools {
		var rawSchema map[string]interface{}
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &rawSchema); err != nil {
				rawSchema = map[string]interface{}{"type": "object"}
			}
		} else {
			rawSchema = map[string]interface{}{"type": "object"}
		}
		params := schema.CleanSchema(schema.SanitizeSchema(rawSchema))
		decls = append(decls, functionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
		})
	}
	return decls
}

func injectGoogleSearchTool(body map[string]interface{}) {
	tools, _ := body["tools"].([]interface{})
	tools = append(tools, map[string]interface{}{"googleSearch": map[string]interface{}{}})
	body["tools"] = tools
}

func injectImageConfig(body map[string]interface{}, img *router.ImageConfig) {
	gc, _ := body["generationConfig"].(map[string]interface{})
	if gc == nil {
		gc = make(map[string]interface{})
	}
	imageConfig := make(map[string]interface{})
	if img.AspectRatio != "" {
		imageConfig["aspectRatio"] = strings.Replace(img.AspectRatio, "x", ":", 1)
	}
	if img.Resolution != "" {
		imageConfig["imageSize"] = strings.ToUpper(img.Resolution)
	}
	gc["responseModalities"] = []string{"TEXT", "IMAGE"}
	gc["imageConfig"] = imageConfig
	body["generationConfig"] = gc
}

func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
