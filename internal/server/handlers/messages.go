// Package handlers provides HTTP request handlers for the server.
// This file handles the Anthropic-shaped Messages API surface.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/claude"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/server/sse"
	"github.com/kestrelmux/antigravity-relay/internal/session"
	"github.com/kestrelmux/antigravity-relay/internal/signature"
	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
	"github.com/kestrelmux/antigravity-relay/pkg/anthropic"
)

// MessagesHandler serves POST /v1/messages, the Claude-shaped dialect.
// Grounded on go-backend/internal/server/handlers/streaming_handler.go,
// generalized to route through the shared router/scheduler instead of
// a single hardcoded Antigravity account pool, and to fork to z.ai when
// configured instead of always calling Cloud Code Assist.
type MessagesHandler struct {
	deps
	zai            *upstream.ZaiForwarder
	signatureCache *signature.Cache
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(cfg *config.Config, kv store.KVStore, sched *scheduler.Scheduler, creds *scheduler.Credentials, upstreamClient *upstream.Client, mon *monitor.Monitor, zai *upstream.ZaiForwarder, sigCache *signature.Cache) *MessagesHandler {
	return &MessagesHandler{
		deps:           deps{cfg: cfg, kv: kv, scheduler: sched, credentials: creds, upstreamClient: upstreamClient, monitor: mon},
		zai:            zai,
		signatureCache: sigCache,
	}
}

// Messages handles POST /v1/messages.
func (h *MessagesHandler) Messages(c *gin.Context) {
	start := time.Now()
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperrors.NewInvalidRequest("failed to read request body: %v", err))
		return
	}

	snap := h.cfg.Snapshot()
	if snap.Zai.Enabled {
		h.forwardToZai(c, raw, snap, start)
		return
	}

	var req anthropic.MessagesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(c, apperrors.NewInvalidRequest("invalid request body: %v", err))
		return
	}

	sessionID := deriveClaudeSessionID(&req)
	tables := router.Tables{Custom: snap.CustomModelMapping, OpenAI: snap.OpenAIModelMapping, Anthropic: snap.AnthropicModelMapping}
	body, caps := claude.BuildRequest(&req, tables, h.signatureCache)

	if req.Stream {
		h.handleStream(c, req.Model, caps.FinalModel, body, sessionID, start)
		return
	}
	h.handleNonStream(c, req.Model, caps.FinalModel, body, sessionID, start)
}

// deriveClaudeSessionID honors the client-supplied metadata.user_id
// before falling back to the session package's content-hash fingerprint;
// the session package has no knowledge of anthropic.Metadata, so this
// precedence check lives here.
func deriveClaudeSessionID(req *anthropic.MessagesRequest) string {
	if req.Metadata != nil && req.Metadata.UserID != "" {
		return req.Metadata.UserID
	}
	messages := make([]session.AnthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, session.AnthropicMessage{Role: m.Role, Text: claudeMessageText(m)})
	}
	return session.DeriveClaudeSessionID(req.Model, messages)
}

func claudeMessageText(m anthropic.Message) string {
	for _, b := range m.Content {
		if b.Type == "text" && b.Text != "" {
			return b.Text
		}
	}
	return ""
}

func (h *MessagesHandler) handleNonStream(c *gin.Context, originalModel, mappedModel string, body map[string]interface{}, sessionID string, start time.Time) {
	var respBody *anthropic.MessagesResponse
	var acctEmail string
	acc, err := h.withAccount(c.Request.Context(), mappedModel, sessionID, func(acc *store.Account, token string) error {
		acctEmail = acc.Email
		env := upstream.NewEnvelope(h.resolveProjectID(c.Request.Context(), acc, token), mappedModel, body)
		raw, callErr := h.upstreamClient.Call(c.Request.Context(), token, env)
		if callErr != nil {
			return callErr
		}
		parsed, convErr := claude.ConvertResponse(raw, originalModel, h.signatureCache)
		if convErr != nil {
			return apperrors.NewTransformError("convert response: %v", convErr)
		}
		respBody = parsed
		return nil
	})

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), originalModel, mappedModel, acctEmail, err.Error(), 0, 0)
		writeError(c, err)
		return
	}

	inTok, outTok := 0, 0
	if respBody.Usage != nil {
		inTok, outTok = respBody.Usage.InputTokens, respBody.Usage.OutputTokens
	}
	h.logRequest(c, durationMs, http.StatusOK, originalModel, mappedModel, accountEmail(acc), "", inTok, outTok)
	c.JSON(http.StatusOK, respBody)
}

func (h *MessagesHandler) handleStream(c *gin.Context, originalModel, mappedModel string, body map[string]interface{}, sessionID string, start time.Time) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeError(c, apperrors.NewTransformError("streaming unsupported: %v", err))
		return
	}

	var acctEmail string
	headersSent := false
	acc, err := h.withAccount(c.Request.Context(), mappedModel, sessionID, func(acc *store.Account, token string) error {
		acctEmail = acc.Email
		env := upstream.NewEnvelope(h.resolveProjectID(c.Request.Context(), acc, token), mappedModel, body)
		events, errCh := h.upstreamClient.Stream(c.Request.Context(), token, env)

		if !headersSent {
			writer.SetHeaders()
			headersSent = true
		}
		for ev := range claude.StreamEvents(events, originalModel, h.signatureCache) {
			if werr := writer.WriteEvent(string(ev.Type), ev); werr != nil {
				logging.Warnf("[messages] write sse event: %v", werr)
			}
		}
		return <-errCh
	})

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		if !headersSent {
			writeError(c, err)
			return
		}
		_ = writer.WriteError("error", err.Error())
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), originalModel, mappedModel, acctEmail, err.Error(), 0, 0)
		return
	}
	h.logRequest(c, durationMs, http.StatusOK, originalModel, mappedModel, accountEmail(acc), "", 0, 0)
}

func accountEmail(acc *store.Account) string {
	if acc == nil {
		return ""
	}
	return acc.Email
}

func (h *MessagesHandler) forwardToZai(c *gin.Context, raw []byte, snap config.Snapshot, start time.Time) {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(c, apperrors.NewInvalidRequest("invalid request body: %v", err))
		return
	}
	model, _ := body["model"].(string)

	resp, err := h.zai.Forward(c.Request.Context(), snap.Zai, http.MethodPost, "/v1/messages", c.Request.Header, body)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), model, model, "zai", err.Error(), 0, 0)
		writeError(c, err)
		return
	}

	c.Status(resp.StatusCode)
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	if err := upstream.CopyBody(c.Writer, resp); err != nil {
		logging.Warnf("[messages] zai body copy: %v", err)
	}
	h.logRequest(c, durationMs, resp.StatusCode, model, model, "zai", "", 0, 0)
}
