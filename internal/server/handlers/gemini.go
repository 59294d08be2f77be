// Package handlers provides HTTP request handlers for the server.
// This file handles the native Gemini generateContent passthrough.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/gemini"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/session"
	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

// GeminiHandler serves POST /v1beta/models/{model}:generateContent and
// :streamGenerateContent, the native Gemini dialect. Built directly
// from spec 4.7 since the teacher never exposed this surface itself.
type GeminiHandler struct {
	deps
}

// NewGeminiHandler creates a new GeminiHandler.
func NewGeminiHandler(cfg *config.Config, kv store.KVStore, sched *scheduler.Scheduler, creds *scheduler.Credentials, upstreamClient *upstream.Client, mon *monitor.Monitor) *GeminiHandler {
	return &GeminiHandler{deps: deps{cfg: cfg, kv: kv, scheduler: sched, credentials: creds, upstreamClient: upstreamClient, monitor: mon}}
}

// GenerateContent handles both the non-streaming and streaming
// actions; the path parameter carries "{model}:{action}" in one
// segment, the way Gemini's own API shapes the route.
func (h *GeminiHandler) GenerateContent(c *gin.Context) {
	start := time.Now()
	raw := c.Param("modelAction")
	model, action, ok := strings.Cut(raw, ":")
	if !ok {
		writeError(c, apperrors.NewInvalidRequest("malformed path, expected {model}:{action}"))
		return
	}
	streaming := action == "streamGenerateContent" || c.Query("alt") == "sse"

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperrors.NewInvalidRequest("failed to read request body: %v", err))
		return
	}
	var reqBody map[string]interface{}
	if err := json.Unmarshal(body, &reqBody); err != nil {
		writeError(c, apperrors.NewInvalidRequest("invalid request body: %v", err))
		return
	}

	snap := h.cfg.Snapshot()
	tables := router.Tables{Custom: snap.CustomModelMapping, OpenAI: snap.OpenAIModelMapping, Anthropic: snap.AnthropicModelMapping}
	mappedBody, caps := gemini.BuildRequest(model, reqBody, tables)
	sessionID := deriveGeminiSessionID(model, reqBody)

	if streaming {
		h.handleStream(c, caps.FinalModel, mappedBody, sessionID, start)
		return
	}
	h.handleNonStream(c, caps.FinalModel, mappedBody, sessionID, start)
}

func deriveGeminiSessionID(model string, body map[string]interface{}) string {
	contents, _ := body["contents"].([]interface{})
	parts := make([]session.GeminiPart, 0, len(contents))
	for _, raw := range contents {
		cm, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := cm["role"].(string)
		parts = append(parts, session.GeminiPart{Role: role, Text: geminiContentText(cm)})
	}
	return session.DeriveGeminiSessionID(model, parts)
}

func geminiContentText(content map[string]interface{}) string {
	partsRaw, _ := content["parts"].([]interface{})
	for _, raw := range partsRaw {
		pm, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if text, _ := pm["text"].(string); text != "" {
			return text
		}
	}
	return ""
}

func (h *GeminiHandler) handleNonStream(c *gin.Context, mappedModel string, body map[string]interface{}, sessionID string, start time.Time) {
	var respBody json.RawMessage
	var acctEmail string
	_, err := h.withAccount(c.Request.Context(), mappedModel, sessionID, func(acc *store.Account, token string) error {
		acctEmail = acc.Email
		env := upstream.NewEnvelope(h.resolveProjectID(c.Request.Context(), acc, token), mappedModel, body)
		raw, callErr := h.upstreamClient.Call(c.Request.Context(), token, env)
		if callErr != nil {
			return callErr
		}
		unwrapped, unwrapErr := gemini.UnwrapResponse(raw)
		if unwrapErr != nil {
			return apperrors.NewTransformError("unwrap response: %v", unwrapErr)
		}
		respBody = unwrapped
		return nil
	})

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), mappedModel, mappedModel, acctEmail, err.Error(), 0, 0)
		writeError(c, err)
		return
	}
	h.logRequest(c, durationMs, http.StatusOK, mappedModel, mappedModel, acctEmail, "", 0, 0)
	c.Data(http.StatusOK, "application/json", respBody)
}

func (h *GeminiHandler) handleStream(c *gin.Context, mappedModel string, body map[string]interface{}, sessionID string, start time.Time) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, apperrors.NewTransformError("streaming unsupported"))
		return
	}

	var acctEmail string
	headersSent := false
	_, err := h.withAccount(c.Request.Context(), mappedModel, sessionID, func(acc *store.Account, token string) error {
		acctEmail = acc.Email
		env := upstream.NewEnvelope(h.resolveProjectID(c.Request.Context(), acc, token), mappedModel, body)
		events, errCh := h.upstreamClient.Stream(c.Request.Context(), token, env)

		if !headersSent {
			setGeminiSSEHeaders(c)
			headersSent = true
		}
		for frame := range gemini.UnwrapStream(events) {
			if _, werr := c.Writer.Write([]byte("data: " + string(frame) + "\n\n")); werr != nil {
				logging.Warnf("[gemini] write sse frame: %v", werr)
				continue
			}
			flusher.Flush()
		}
		return <-errCh
	})

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		if !headersSent {
			writeError(c, err)
			return
		}
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), mappedModel, mappedModel, acctEmail, err.Error(), 0, 0)
		return
	}
	h.logRequest(c, durationMs, http.StatusOK, mappedModel, mappedModel, acctEmail, "", 0, 0)
}

func setGeminiSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}
