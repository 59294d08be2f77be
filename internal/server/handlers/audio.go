// Package handlers provides HTTP request handlers for the server.
// This file handles the audio-transcription surface.
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/audio"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

// AudioHandler serves POST /v1/audio/transcriptions, a multipart
// upload translated into a single inline-data generateContent call.
// Grounded on original_source/.../proxy/handlers/audio.rs.
type AudioHandler struct {
	deps
}

// NewAudioHandler creates a new AudioHandler.
func NewAudioHandler(cfg *config.Config, kv store.KVStore, sched *scheduler.Scheduler, creds *scheduler.Credentials, upstreamClient *upstream.Client, mon *monitor.Monitor) *AudioHandler {
	return &AudioHandler{deps: deps{cfg: cfg, kv: kv, scheduler: sched, credentials: creds, upstreamClient: upstreamClient, monitor: mon}}
}

// Transcriptions handles POST /v1/audio/transcriptions.
func (h *AudioHandler) Transcriptions(c *gin.Context) {
	start := time.Now()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, apperrors.NewInvalidRequest("missing 'file' field: %v", err))
		return
	}
	if audio.ExceedsSizeLimit(int(fileHeader.Size)) {
		writeError(c, apperrors.NewPayloadTooLarge("%s", audio.TooLargeMessage(int(fileHeader.Size))))
		return
	}
	mimeType, err := audio.DetectMIMEType(fileHeader.Filename)
	if err != nil {
		writeError(c, apperrors.NewInvalidRequest("%v", err))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, apperrors.NewInvalidRequest("failed to open uploaded file: %v", err))
		return
	}
	defer file.Close()
	audioBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(c, apperrors.NewInvalidRequest("failed to read uploaded file: %v", err))
		return
	}

	model := c.PostForm("model")
	if model == "" {
		model = audio.DefaultModel
	}
	prompt := c.PostForm("prompt")
	if prompt == "" {
		prompt = audio.DefaultPrompt
	}

	snap := h.cfg.Snapshot()
	tables := router.Tables{Custom: snap.CustomModelMapping, OpenAI: snap.OpenAIModelMapping, Anthropic: snap.AnthropicModelMapping}
	mapped := router.ResolveModel(model, tables)
	body := audio.BuildRequest(prompt, mimeType, audioBytes)

	var transcript string
	var acctEmail string
	_, err = h.withAccount(c.Request.Context(), mapped, "audio-"+fileHeader.Filename, func(acc *store.Account, token string) error {
		acctEmail = acc.Email
		env := upstream.NewEnvelope(h.resolveProjectID(c.Request.Context(), acc, token), mapped, body)
		raw, callErr := h.upstreamClient.Call(c.Request.Context(), token, env)
		if callErr != nil {
			return callErr
		}
		text, convErr := audio.ConvertResponse(raw)
		if convErr != nil {
			return apperrors.NewTransformError("convert response: %v", convErr)
		}
		transcript = text
		return nil
	})

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), model, mapped, acctEmail, err.Error(), 0, 0)
		writeError(c, err)
		return
	}
	h.logRequest(c, durationMs, http.StatusOK, model, mapped, acctEmail, "", 0, 0)
	c.JSON(http.StatusOK, gin.H{"text": transcript})
}
