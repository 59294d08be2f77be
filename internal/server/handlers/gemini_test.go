package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

func TestGeminiContentTextReturnsFirstPart(t *testing.T) {
	content := map[string]interface{}{
		"role": "user",
		"parts": []interface{}{
			map[string]interface{}{"inlineData": map[string]interface{}{}},
			map[string]interface{}{"text": "actual text"},
		},
	}
	assert.Equal(t, "actual text", geminiContentText(content))
}

func TestGeminiContentTextEmptyWhenNoTextPart(t *testing.T) {
	content := map[string]interface{}{"role": "user", "parts": []interface{}{}}
	assert.Empty(t, geminiContentText(content))
}

func TestDeriveGeminiSessionIDDiffersByContent(t *testing.T) {
	bodyA := map[string]interface{}{"contents": []interface{}{
		map[string]interface{}{"role": "user", "parts": []interface{}{map[string]interface{}{"text": "hi"}}},
	}}
	bodyB := map[string]interface{}{"contents": []interface{}{
		map[string]interface{}{"role": "user", "parts": []interface{}{map[string]interface{}{"text": "bye"}}},
	}}
	assert.NotEmpty(t, deriveGeminiSessionID("gemini-2.5-pro", bodyA))
	assert.NotEqual(t, deriveGeminiSessionID("gemini-2.5-pro", bodyA), deriveGeminiSessionID("gemini-2.5-pro", bodyB))
}

func TestSetGeminiSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	setGeminiSSEHeaders(c)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateContentRejectsMalformedModelAction(t *testing.T) {
	h := NewGeminiHandler(config.Default(), nil, nil, nil, nil, nil)
	engine := gin.New()
	engine.POST("/v1beta/models/:modelAction", h.GenerateContent)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro", bytes.NewReader([]byte(`{}`)))
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
