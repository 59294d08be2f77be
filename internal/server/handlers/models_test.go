package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestListModelsIncludesBuiltinAndImageGenCombinations(t *testing.T) {
	cfg := config.Default()
	cfg.CustomModelMapping = map[string]string{"my-alias": "gemini-2.5-pro"}
	h := NewModelsHandler(cfg)

	engine := gin.New()
	engine.GET("/v1/models", h.ListModels)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp anthropic.ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	ids := map[string]bool{}
	for _, m := range resp.Data {
		ids[m.ID] = true
	}
	assert.True(t, ids["claude-3-5-sonnet-20241022"])
	assert.True(t, ids["my-alias"])
	assert.True(t, ids["gemini-3-pro-image"])
	assert.True(t, ids["gemini-3-pro-image-2k-16x9"])
	assert.True(t, ids["gemini-2.5-pro"])
}

func TestListModelsDeduplicatesAcrossTables(t *testing.T) {
	cfg := config.Default()
	cfg.AnthropicModelMapping = map[string]string{"gpt-4o": "claude-opus-4-5"}
	h := NewModelsHandler(cfg)

	engine := gin.New()
	engine.GET("/v1/models", h.ListModels)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	var resp anthropic.ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	count := 0
	for _, m := range resp.Data {
		if m.ID == "gpt-4o" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
