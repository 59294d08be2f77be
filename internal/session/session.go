// Package session derives a stable session fingerprint from a
// client's conversation history, used to pick a sticky scheduling
// account. One shared
// helper does the actual hashing; Claude, OpenAI, and Gemini-native
// each get a thin adapter over their own message shape.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const minQualifyingTextLen = 10

// hashFirstQualifyingText hashes modelName together with the first
// candidate string that is non-empty, longer than minQualifyingTextLen,
// and does not contain a system-reminder marker. If none qualifies, it
// falls back to the last candidate, or a random id if there are none.
func hashFirstQualifyingText(modelName string, candidates []string) string {
	for _, c := range candidates {
		if qualifies(c) {
			return hashText(modelName, c)
		}
	}
	if len(candidates) > 0 {
		return hashText(modelName, candidates[len(candidates)-1])
	}
	return "sid-" + uuid.New().String()[:16]
}

func qualifies(text string) bool {
	trimmed := strings.TrimSpace(text)
	return len(trimmed) > minQualifyingTextLen && !strings.Contains(trimmed, "<system-reminder>")
}

func hashText(modelName, text string) string {
	h := sha256.Sum256([]byte(modelName + "|" + text))
	return "sid-" + hex.EncodeToString(h[:])[:16]
}

// AnthropicMessage is the minimal shape session fingerprinting needs
// from a Claude-style message, avoiding an import of the mapper
// packages (which import this one).
type AnthropicMessage struct {
	Role string
	Text string // joined text content of the message
}

// DeriveClaudeSessionID fingerprints a Claude /v1/messages request.
func DeriveClaudeSessionID(modelName string, messages []AnthropicMessage) string {
	var candidates []string
	for _, m := range messages {
		if m.Role == "user" {
			candidates = append(candidates, m.Text)
			break
		}
	}
	if len(candidates) == 0 && len(messages) > 0 {
		candidates = append(candidates, messages[len(messages)-1].Text)
	}
	return hashFirstQualifyingText(modelName, candidates)
}

// OpenAIMessage is the minimal shape needed from a chat-completion message.
type OpenAIMessage struct {
	Role    string
	Content string
}

// DeriveOpenAISessionID fingerprints an OpenAI-compatible chat request.
func DeriveOpenAISessionID(modelName string, messages []OpenAIMessage) string {
	var candidates []string
	for _, m := range messages {
		if m.Role == "user" {
			candidates = append(candidates, m.Content)
			break
		}
	}
	if len(candidates) == 0 && len(messages) > 0 {
		candidates = append(candidates, messages[len(messages)-1].Content)
	}
	return hashFirstQualifyingText(modelName, candidates)
}

// GeminiPart is the minimal shape needed from a Gemini-native content part.
type GeminiPart struct {
	Role string
	Text string
}

// DeriveGeminiSessionID fingerprints a Gemini-native generateContent request.
func DeriveGeminiSessionID(modelName string, parts []GeminiPart) string {
	var candidates []string
	for _, p := range parts {
		if p.Role == "user" {
			candidates = append(candidates, p.Text)
			break
		}
	}
	if len(candidates) == 0 && len(parts) > 0 {
		candidates = append(candidates, parts[len(parts)-1].Text)
	}
	return hashFirstQualifyingText(modelName, candidates)
}
