package claude

import "github.com/kestrelmux/antigravity-relay/internal/config"

// The synthetic recovery texts below are the spec's literal wording,
// not the teacher's — Claude Code's own client tolerates either, but
// a byte-for-byte match matters for the round-trip tests that pin
// these strings.
const (
	toolLoopInterruptedText = "[Tool execution completed. Please proceed.]"
	toolLoopProceedText     = "Proceed."
)

// cleanCacheControl strips cache_control from every block in every
// message; v1internal has no concept of Anthropic prompt caching and
// rejects the field outright. Grounded on thinking_utils.CleanCacheControl.
func cleanCacheControl(messages []message) []message {
	out := make([]message, len(messages))
	for i, m := range messages {
		blocks := make([]block, len(m.Content))
		for j, b := range m.Content {
			b.CacheControl = nil
			blocks[j] = b
		}
		out[i] = message{Role: m.Role, Content: blocks}
	}
	return out
}

func isThinkingPart(b block) bool {
	return b.Type == "thinking" || b.Type == "redacted_thinking"
}

func hasValidSignature(b block) bool {
	return len(b.Signature) >= config.MinSignatureLength
}

// hasGeminiHistory reports whether any thinking block in the
// conversation carries a signature this process recognizes as having
// come from a Gemini-family response.
func hasGeminiHistory(messages []message, cache signatureCache) bool {
	for _, m := range messages {
		for _, b := range m.Content {
			if isThinkingPart(b) && b.Signature != "" {
				if cache.GetSignatureFamily(b.Signature) == string(config.FamilyGemini) {
					return true
				}
			}
		}
	}
	return false
}

func hasUnsignedThinkingBlocks(messages []message) bool {
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		for _, b := range m.Content {
			if isThinkingPart(b) && !hasValidSignature(b) {
				return true
			}
		}
	}
	return false
}

// signatureCache is the subset of *signature.Cache this package
// depends on, so tests can supply a fake without importing the real
// package's concrete type.
type signatureCache interface {
	GetSignatureFamily(sig string) string
	CacheSignatureFamily(sig, family string)
	GetToolSignature(toolUseID string) string
	CacheToolSignature(toolUseID, sig string)
	StoreThoughtSignature(sig string)
	MostRecentThoughtSignature() string
}

// sanitizeThinkingBlock drops a thinking block's signature when it
// belongs to a different model family than targetFamily, since Gemini
// rejects a Claude-origin signature (and vice versa) rather than
// silently ignoring it.
func sanitizeThinkingBlock(b block, targetFamily config.ModelFamily, cache signatureCache) block {
	if b.Signature == "" {
		return b
	}
	origin := cache.GetSignatureFamily(b.Signature)
	if origin != "" && origin != string(targetFamily) {
		b.Signature = ""
	}
	return b
}

// sanitizeToolUseBlock fills in a missing thoughtSignature from the
// tool_use_id cache, falling back to the most-recent-thought-signature
// slot when the id itself can no longer be matched (e.g. after a
// history rewrite dropped the original tool_use_id).
func sanitizeToolUseBlock(b block, cache signatureCache) block {
	if b.ThoughtSignature == "" && b.ID != "" {
		if sig := cache.GetToolSignature(b.ID); sig != "" {
			b.ThoughtSignature = sig
		} else if sig := cache.MostRecentThoughtSignature(); sig != "" {
			b.ThoughtSignature = sig
		}
	}
	return b
}

// restoreThinkingSignatures fills in a missing thoughtSignature on a
// tool_use block from the cache, and drops a thinking block's
// signature when its cached origin family no longer matches the
// current target. Grounded on thinking_utils.RestoreThinkingSignatures.
func restoreThinkingSignatures(m message, targetFamily config.ModelFamily, cache signatureCache) message {
	blocks := make([]block, len(m.Content))
	for i, b := range m.Content {
		switch {
		case isThinkingPart(b):
			blocks[i] = sanitizeThinkingBlock(b, targetFamily, cache)
		case b.Type == "tool_use":
			blocks[i] = sanitizeToolUseBlock(b, cache)
		default:
			blocks[i] = b
		}
	}
	return message{Role: m.Role, Content: blocks}
}

// removeTrailingThinkingBlocks drops the run of thinking blocks at the
// end of an assistant message; a thinking block with nothing after it
// is a dangling fragment the API will reject. Thinking blocks earlier
// in the message are kept. Grounded on
// thinking_utils.RemoveTrailingThinkingBlocks.
func removeTrailingThinkingBlocks(m message) message {
	if m.Role != "assistant" || len(m.Content) == 0 {
		return m
	}
	last := len(m.Content) - 1
	for last >= 0 && isThinkingPart(m.Content[last]) {
		last--
	}
	if last == len(m.Content)-1 {
		return m
	}
	return message{Role: m.Role, Content: append([]block{}, m.Content[:last+1]...)}
}

// reorderAssistantContent places thinking blocks first, then text,
// then tool_use, matching the order Claude's own API emits and that
// Claude Code's client expects on replay. Grounded on
// thinking_utils.ReorderAssistantContent.
func reorderAssistantContent(m message) message {
	if m.Role != "assistant" {
		return m
	}
	var thinking, text, toolUse, other []block
	for _, b := range m.Content {
		switch {
		case isThinkingPart(b):
			thinking = append(thinking, b)
		case b.Type == "text":
			text = append(text, b)
		case b.Type == "tool_use":
			toolUse = append(toolUse, b)
		default:
			other = append(other, b)
		}
	}
	ordered := make([]block, 0, len(m.Content))
	ordered = append(ordered, thinking...)
	ordered = append(ordered, text...)
	ordered = append(ordered, other...)
	ordered = append(ordered, toolUse...)
	return message{Role: m.Role, Content: ordered}
}

// filterUnsignedThinkingBlocks drops thinking blocks lacking a usable
// signature from assistant messages; Claude's API rejects a thinking
// block it didn't itself sign.
func filterUnsignedThinkingBlocks(m message) message {
	if m.Role != "assistant" {
		return m
	}
	kept := make([]block, 0, len(m.Content))
	for _, b := range m.Content {
		if isThinkingPart(b) && !hasValidSignature(b) {
			continue
		}
		kept = append(kept, b)
	}
	return message{Role: m.Role, Content: kept}
}

// conversationState summarizes the tail of a conversation for the
// purpose of deciding whether a synthetic recovery turn is needed.
// Grounded on thinking_utils.conversationState.
type conversationState struct {
	InToolLoop        bool
	InterruptedTool    bool
	TurnHasThinking    bool
	ToolResultCount    int
	LastAssistantIdx   int
}

func messageHasToolUse(m message) bool {
	for _, b := range m.Content {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

func messageHasToolResult(m message) bool {
	for _, b := range m.Content {
		if b.Type == "tool_result" {
			return true
		}
	}
	return false
}

func messageHasValidThinking(m message) bool {
	for _, b := range m.Content {
		if isThinkingPart(b) && hasValidSignature(b) {
			return true
		}
	}
	return false
}

func isPlainUserMessage(m message) bool {
	if m.Role != "user" {
		return false
	}
	return !messageHasToolResult(m)
}

// analyzeConversationState walks from the end of messages looking for
// an assistant turn that called a tool, and classifies whether the
// conversation was left mid-loop (tool_result already answered, model
// about to continue) or interrupted (tool_use with no matching result
// yet, e.g. the client cancelled before the tool ran).
func analyzeConversationState(messages []message) conversationState {
	state := conversationState{LastAssistantIdx: -1}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			state.LastAssistantIdx = i
			break
		}
	}
	if state.LastAssistantIdx == -1 {
		return state
	}
	last := messages[state.LastAssistantIdx]
	state.TurnHasThinking = messageHasValidThinking(last)
	if !messageHasToolUse(last) {
		return state
	}

	hasResult := false
	for i := state.LastAssistantIdx + 1; i < len(messages); i++ {
		if messages[i].Role == "user" && messageHasToolResult(messages[i]) {
			hasResult = true
			state.ToolResultCount++
		}
	}
	if hasResult {
		state.InToolLoop = true
	} else {
		state.InterruptedTool = true
	}
	return state
}

// needsThinkingRecovery reports whether the conversation ends in a
// state where the model's next turn would continue a dangling tool
// call without a synthetic nudge — true when the last assistant turn
// called a tool with valid thinking and either got answered (tool
// loop) or was cut off before a result arrived (interrupted tool), and
// no further assistant turn has happened since.
func needsThinkingRecovery(messages []message) bool {
	if len(messages) == 0 {
		return false
	}
	state := analyzeConversationState(messages)
	if !state.TurnHasThinking {
		return false
	}
	if state.LastAssistantIdx != len(messages)-1 && !state.InToolLoop {
		return false
	}
	return state.InToolLoop || state.InterruptedTool
}

// closeToolLoopForThinking appends the synthetic assistant/user turn
// pair that closes a dangling tool loop so the next real turn starts
// clean, using the spec's literal recovery text for both the
// interrupted-tool and tool-loop-closed cases.
func closeToolLoopForThinking(messages []message) []message {
	if len(messages) == 0 {
		return messages
	}
	state := analyzeConversationState(messages)
	if !state.InToolLoop && !state.InterruptedTool {
		return messages
	}

	out := append([]message{}, messages...)
	out = append(out, message{
		Role: "assistant",
		Content: []block{{
			Type: "text",
			Text: toolLoopInterruptedText,
		}},
	})
	out = append(out, message{
		Role: "user",
		Content: []block{{
			Type: "text",
			Text: toolLoopProceedText,
		}},
	})
	return out
}
