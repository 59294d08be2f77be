package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/kestrelmux/antigravity-relay/internal/mapper/openai"
)

func TestOpenAIMessageTextFromPlainString(t *testing.T) {
	m := openai.ChatMessage{Role: "user", Content: "hello"}
	assert.Equal(t, "hello", openAIMessageText(m))
}

func TestOpenAIMessageTextFromContentParts(t *testing.T) {
	m := openai.ChatMessage{Role: "user", Content: []interface{}{
		map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{"url": "x"}},
		map[string]interface{}{"type": "text", "text": "described here"},
	}}
	assert.Equal(t, "described here", openAIMessageText(m))
}

func TestOpenAIMessageTextEmptyForUnknownShape(t *testing.T) {
	m := openai.ChatMessage{Role: "user", Content: 42}
	assert.Empty(t, openAIMessageText(m))
}

func TestDeriveOpenAISessionIDDiffersByContent(t *testing.T) {
	a := &openai.ChatCompletionRequest{Model: "gpt-4o", Messages: []openai.ChatMessage{{Role: "user", Content: "hi there"}}}
	b := &openai.ChatCompletionRequest{Model: "gpt-4o", Messages: []openai.ChatMessage{{Role: "user", Content: "bye there"}}}
	assert.NotEmpty(t, deriveOpenAISessionID(a))
	assert.NotEqual(t, deriveOpenAISessionID(a), deriveOpenAISessionID(b))
}

func TestSetOpenAISSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	setOpenAISSEHeaders(c)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteOpenAIChunkWritesSSEFrame(t *testing.T) {
	w := httptest.NewRecorder()
	chunk := openai.ChatCompletionChunk{ID: "chatcmpl-1", Object: "chat.completion.chunk", Model: "gpt-4o"}
	err := writeOpenAIChunk(w, w, chunk)
	assert.NoError(t, err)
	assert.Contains(t, w.Body.String(), "data: {")
	assert.Contains(t, w.Body.String(), "\"id\":\"chatcmpl-1\"")
}
