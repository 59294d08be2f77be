// Package handlers provides HTTP request handlers for the server.
// This file handles GET /v1/models.
package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

// imageGenBase is the one model family the router expands into a
// resolution/aspect-ratio suffix grammar for GET /v1/models.
// Grounded on model_mapping.rs's get_all_dynamic_models.
const imageGenBase = "gemini-3-pro-image"

var imageResolutions = []string{"", "-2k", "-4k"}
var imageRatios = []string{"", "-1x1", "-4x3", "-3x4", "-16x9", "-9x16", "-21x9"}

// extraListedModels are ids the original always reports even though
// they aren't keys of the built-in fallback table (mostly bare
// Gemini family ids a client might ask for directly).
var extraListedModels = []string{
	"gemini-2.0-flash-exp",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-3-flash",
	"gemini-3-pro-high",
	"gemini-3-pro-low",
}

// ModelsHandler serves the dynamically generated model catalog.
type ModelsHandler struct {
	cfg *config.Config
}

// NewModelsHandler creates a new ModelsHandler.
func NewModelsHandler(cfg *config.Config) *ModelsHandler {
	return &ModelsHandler{cfg: cfg}
}

// ListModels handles GET /v1/models: the union of built-in ids,
// every protocol's custom mapping keys, a handful of always-present
// Gemini ids, and every image-gen resolution/aspect-ratio combination,
// rather than a live round-trip to the upstream.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	ids := map[string]struct{}{}

	for id := range config.BuiltinModelMap {
		ids[id] = struct{}{}
	}
	snap := h.cfg.Snapshot()
	for id := range snap.CustomModelMapping {
		ids[id] = struct{}{}
	}
	for id := range snap.OpenAIModelMapping {
		ids[id] = struct{}{}
	}
	for id := range snap.AnthropicModelMapping {
		ids[id] = struct{}{}
	}
	for _, id := range extraListedModels {
		ids[id] = struct{}{}
	}
	for _, res := range imageResolutions {
		for _, ratio := range imageRatios {
			ids[imageGenBase+res+ratio] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	data := make([]anthropic.Model, len(sorted))
	for i, id := range sorted {
		data[i] = anthropic.Model{ID: id, Object: "model", OwnedBy: "antigravity-relay"}
	}

	c.JSON(http.StatusOK, anthropic.ModelsResponse{Object: "list", Data: data})
}
