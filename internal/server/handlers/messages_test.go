package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

func TestDeriveClaudeSessionIDPrefersMetadataUserID(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:    "claude-sonnet-4-5",
		Metadata: &anthropic.Metadata{UserID: "user-123"},
		Messages: []anthropic.Message{{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}}},
	}
	assert.Equal(t, "user-123", deriveClaudeSessionID(req))
}

func TestDeriveClaudeSessionIDFallsBackToContentFingerprint(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []anthropic.Message{{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello there"}}}},
	}
	id := deriveClaudeSessionID(req)
	assert.NotEmpty(t, id)

	other := &anthropic.MessagesRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []anthropic.Message{{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "goodbye there"}}}},
	}
	assert.NotEqual(t, id, deriveClaudeSessionID(other))
}

func TestClaudeMessageTextReturnsFirstTextBlock(t *testing.T) {
	m := anthropic.Message{
		Role: "user",
		Content: []anthropic.ContentBlock{
			{Type: "image", Text: ""},
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
		},
	}
	assert.Equal(t, "first", claudeMessageText(m))
}

func TestClaudeMessageTextEmptyWhenNoTextBlocks(t *testing.T) {
	m := anthropic.Message{Role: "user", Content: []anthropic.ContentBlock{{Type: "image"}}}
	assert.Empty(t, claudeMessageText(m))
}

func TestAccountEmailHandlesNil(t *testing.T) {
	assert.Empty(t, accountEmail(nil))
	assert.Equal(t, "a@example.com", accountEmail(&store.Account{Email: "a@example.com"}))
}
