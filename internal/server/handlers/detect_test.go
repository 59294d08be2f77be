package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

func postDetect(t *testing.T, h *DetectHandler, model string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	engine := gin.New()
	engine.POST("/v1/models/detect", h.Detect)

	body, err := json.Marshal(map[string]string{"model": model})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/models/detect", bytes.NewReader(body)))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestDetectPlainTextModel(t *testing.T) {
	h := NewDetectHandler(config.Default())
	w, resp := postDetect(t, h, "claude-sonnet-4-5")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text", resp["type"])
	features := resp["features"].(map[string]interface{})
	assert.Equal(t, false, features["is_image_gen"])
	assert.Equal(t, false, features["has_web_search"])
	assert.Nil(t, resp["config"])
}

func TestDetectImageGenModelIncludesConfig(t *testing.T) {
	h := NewDetectHandler(config.Default())
	w, resp := postDetect(t, h, "gemini-3-pro-image-2k-16x9")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image_gen", resp["type"])
	features := resp["features"].(map[string]interface{})
	assert.Equal(t, true, features["is_image_gen"])

	cfg, ok := resp["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2k", cfg["resolution"])
	assert.Equal(t, "16x9", cfg["aspect_ratio"])
}

func TestDetectMissingModelReturns400(t *testing.T) {
	h := NewDetectHandler(config.Default())
	engine := gin.New()
	engine.POST("/v1/models/detect", h.Detect)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/models/detect", bytes.NewReader([]byte(`{}`))))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
