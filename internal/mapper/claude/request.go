package claude

import (
	"encoding/json"
	"strings"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/schema"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

const interleavedThinkingHint = "Interleaved thinking is enabled. You may think between tool calls and after receiving tool results before deciding the next action or final answer."

// BuildRequest converts a client Messages API request into the
// Gemini-shaped map this relay sends inside a v1internal envelope,
// resolving the target model and request capabilities through the
// shared router along the way. Grounded on
// request_converter.ConvertAnthropicToGoogle, generalized to route
// through router.ResolveModel/ResolveCapabilities instead of the
// teacher's hardcoded Antigravity model table.
func BuildRequest(req *anthropic.MessagesRequest, tables router.Tables, cache signatureCache) (body map[string]interface{}, caps router.Capabilities) {
	mapped := router.ResolveModel(req.Model, tables)
	caps = router.ResolveCapabilities(req.Model, mapped, anthropicToolsAsMaps(req.Tools))
	finalModel := caps.FinalModel

	family := config.GetModelFamily(finalModel)
	isClaude := family == config.FamilyClaude
	isGemini := family == config.FamilyGemini
	isThinking := config.IsThinkingModel(finalModel)

	messages := cleanCacheControl(convertAnthropicMessages(req.Messages))

	gr := &googleRequest{
		Contents:         []googleContent{},
		GenerationConfig: &generationConfig{},
	}

	if sys := buildSystemInstruction(req.System); sys != nil {
		gr.SystemInstruction = sys
	}

	if isClaude && isThinking && len(req.Tools) > 0 {
		appendSystemHint(gr, interleavedThinkingHint)
	}

	processed := messages
	if isGemini && isThinking && needsThinkingRecovery(messages) {
		processed = closeToolLoopForThinking(messages)
	}
	needsClaudeRecovery := hasGeminiHistory(messages, cache) || hasUnsignedThinkingBlocks(messages)
	if isClaude && isThinking && needsClaudeRecovery && needsThinkingRecovery(messages) {
		processed = closeToolLoopForThinking(messages)
	}

	for _, m := range processed {
		content := m.Content
		if (m.Role == "assistant" || m.Role == "model") && len(content) > 0 {
			restored := restoreThinkingSignatures(message{Role: m.Role, Content: content}, family, cache)
			trimmed := removeTrailingThinkingBlocks(restored)
			content = reorderAssistantContent(trimmed).Content
		}

		parts := convertContentToParts(content, isClaude, isGemini, cache)
		if len(parts) == 0 {
			parts = []googlePart{{Text: "."}}
		}

		gr.Contents = append(gr.Contents, googleContent{
			Role:  convertRole(m.Role),
			Parts: parts,
		})
	}

	if isClaude {
		gr.Contents = filterUnsignedThinkingContents(gr.Contents)
	}

	if req.MaxTokens > 0 {
		gr.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	gr.GenerationConfig.Temperature = req.Temperature
	gr.GenerationConfig.TopP = req.TopP
	gr.GenerationConfig.TopK = req.TopK
	if len(req.StopSequences) > 0 {
		gr.GenerationConfig.StopSequences = req.StopSequences
	}

	if isThinking {
		applyThinkingConfig(gr, req, isClaude)
	}

	if len(req.Tools) > 0 {
		gr.Tools = []googleTool{{FunctionDeclarations: buildFunctionDeclarations(req.Tools)}}
		if isClaude {
			gr.ToolConfig = &toolConfig{FunctionCallingConfig: &functionCallingConfig{Mode: "VALIDATED"}}
		}
	}

	if isGemini && gr.GenerationConfig.MaxOutputTokens > config.GeminiMaxOutputTokens {
		gr.GenerationConfig.MaxOutputTokens = config.GeminiMaxOutputTokens
	}

	body = gr.ToMap()
	if caps.InjectGoogleSearch {
		injectGoogleSearchTool(body)
	}
	if caps.ImageConfig != nil {
		injectImageConfig(body, caps.ImageConfig)
	}
	return body, caps
}

func anthropicToolsAsMaps(tools []anthropic.Tool) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{"name": t.Name})
	}
	return out
}

func buildSystemInstruction(system anthropic.SystemContent) *googleContent {
	var parts []googlePart
	switch s := system.(type) {
	case string:
		if s != "" {
			parts = append(parts, googlePart{Text: s})
		}
	case []interface{}:
		for _, item := range s {
			if m, ok := item.(map[string]interface{}); ok && m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, googlePart{Text: text})
				}
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &googleContent{Parts: parts}
}

func appendSystemHint(gr *googleRequest, hint string) {
	if gr.SystemInstruction == nil {
		gr.SystemInstruction = &googleContent{Parts: []googlePart{{Text: hint}}}
		return
	}
	if len(gr.SystemInstruction.Parts) == 0 {
		gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, googlePart{Text: hint})
		return
	}
	last := &gr.SystemInstruction.Parts[len(gr.SystemInstruction.Parts)-1]
	if last.Text != "" {
		last.Text = last.Text + "\n\n" + hint
	} else {
		gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, googlePart{Text: hint})
	}
}

// applyThinkingConfig sets the family-appropriate thinking config
// block. Claude only enables a budget when the client explicitly
// asked for one, bumping max_tokens past it when needed; Gemini
// always gets a default budget when the model is thinking-capable.
func applyThinkingConfig(gr *googleRequest, req *anthropic.MessagesRequest, isClaude bool) {
	if isClaude {
		tc := &thinkingConfig{IncludeThoughts: true}
		var budget int
		if req.Thinking != nil {
			budget = req.Thinking.BudgetTokens
		}
		if budget > 0 {
			tc.ThinkingBudget = budget
			if gr.GenerationConfig.MaxOutputTokens > 0 && gr.GenerationConfig.MaxOutputTokens <= budget {
				gr.GenerationConfig.MaxOutputTokens = budget + 8192
			}
		}
		gr.GenerationConfig.ThinkingConfig = tc
		return
	}

	budget := 16000
	if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
		budget = req.Thinking.BudgetTokens
	}
	gr.GenerationConfig.ThinkingConfig = &thinkingConfig{
		IncludeThoughtsGemini: true,
		ThinkingBudgetGemini:  budget,
	}
}

func buildFunctionDeclarations(tools []anthropic.Tool) []functionDeclaration {
	decls := make([]functionDeclaration, 0, len(tools))
	for idx, t := range tools {
		name := t.Name
		if name == "" {
			name = "tool-" + string(rune('0'+idx))
		}
		var rawSchema map[string]interface{}
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &rawSchema); err != nil {
				rawSchema = map[string]interface{}{"type": "object"}
			}
		} else {
			rawSchema = map[string]interface{}{"type": "object"}
		}
		params := schema.CleanSchema(schema.SanitizeSchema(rawSchema))
		decls = append(decls, functionDeclaration{
			Name:        cleanToolName(name),
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls
}

// cleanToolName replaces every character the API does not accept in a
// function name with '_', truncated to its 64-char limit.
func cleanToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	cleaned := b.String()
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	return cleaned
}

// filterUnsignedThinkingContents drops a thinking part with no usable
// signature from already-built Gemini contents; Claude rejects a
// thinking part it didn't sign itself.
func filterUnsignedThinkingContents(contents []googleContent) []googleContent {
	out := make([]googleContent, len(contents))
	for i, c := range contents {
		kept := make([]googlePart, 0, len(c.Parts))
		for _, p := range c.Parts {
			if p.Thought && len(p.ThoughtSignature) < config.MinSignatureLength {
				continue
			}
			kept = append(kept, p)
		}
		out[i] = googleContent{Role: c.Role, Parts: kept}
	}
	return out
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

// convertAnthropicMessages converts wire messages to the mapper's
// working message/block representation.
func convertAnthropicMessages(messages []anthropic.Message) []message {
	out := make([]message, 0, len(messages))
	for _, m := range messages {
		out = append(out, message{Role: m.Role, Content: convertAnthropicContent(m.Content)})
	}
	return out
}

func convertAnthropicContent(blocks []anthropic.ContentBlock) []block {
	out := make([]block, 0, len(blocks))
	for _, item := range blocks {
		b := block{
			Type:             item.Type,
			Text:             item.Text,
			Thinking:         item.Thinking,
			Signature:        item.Signature,
			ThoughtSignature: item.ThoughtSignature,
			ID:               item.ID,
			Name:             item.Name,
			ToolUseID:        item.ToolUseID,
			Content:          item.Content,
		}
		if len(item.Input) > 0 {
			var input map[string]interface{}
			if err := json.Unmarshal(item.Input, &input); err == nil {
				b.Input = input
			}
		}
		if item.Source != nil {
			b.Source = &imageSource{
				Type:      item.Source.Type,
				MediaType: item.Source.MediaType,
				Data:      item.Source.Data,
				URL:       item.Source.URL,
			}
		}
		if item.CacheControl != nil {
			b.CacheControl = item.CacheControl
		}
		out = append(out, b)
	}
	return out
}
