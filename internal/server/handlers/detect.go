// Package handlers provides HTTP request handlers for the server.
// This file handles the model capability probe.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
)

// DetectHandler serves POST /v1/models/detect, the capability probe a
// client uses to learn how a model id will route before committing to
// a real call. Grounded on common.rs's handle_detect_model.
type DetectHandler struct {
	cfg *config.Config
}

// NewDetectHandler creates a new DetectHandler.
func NewDetectHandler(cfg *config.Config) *DetectHandler {
	return &DetectHandler{cfg: cfg}
}

type detectRequest struct {
	Model string `json:"model"`
}

// Detect resolves model routing and capabilities without issuing any
// upstream call.
func (h *DetectHandler) Detect(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "missing 'model' field", "type": "invalid_request_error"}})
		return
	}

	snap := h.cfg.Snapshot()
	tables := router.Tables{
		Custom:    snap.CustomModelMapping,
		OpenAI:    snap.OpenAIModelMapping,
		Anthropic: snap.AnthropicModelMapping,
	}
	mapped := router.ResolveModel(req.Model, tables)
	caps := router.ResolveCapabilities(req.Model, mapped, nil)

	resp := gin.H{
		"model":        req.Model,
		"mapped_model": mapped,
		"type":         string(caps.RequestType),
		"features": gin.H{
			"has_web_search": caps.InjectGoogleSearch,
			"is_image_gen":   caps.RequestType == router.RequestImageGen,
		},
	}
	if caps.ImageConfig != nil {
		resp["config"] = gin.H{
			"resolution":   caps.ImageConfig.Resolution,
			"aspect_ratio": caps.ImageConfig.AspectRatio,
		}
	}
	c.JSON(http.StatusOK, resp)
}
