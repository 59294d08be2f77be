// Package handlers provides HTTP request handlers for the server.
// This file handles the OpenAI-compatible chat completions surface.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/openai"
	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/session"
	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

// ChatHandler serves the OpenAI-compatible /v1/chat/completions and
// /v1/completions routes, fanning the request out to the account
// pool through the same withAccount failover loop every other
// dialect handler uses.
type ChatHandler struct {
	deps
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(cfg *config.Config, kv store.KVStore, sched *scheduler.Scheduler, creds *scheduler.Credentials, upstreamClient *upstream.Client, mon *monitor.Monitor) *ChatHandler {
	return &ChatHandler{deps: deps{cfg: cfg, kv: kv, scheduler: sched, credentials: creds, upstreamClient: upstreamClient, monitor: mon}}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	start := time.Now()
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperrors.NewInvalidRequest("failed to read request body: %v", err))
		return
	}
	// Peek the stream flag with gjson before the full unmarshal and OR it
	// into req.Stream. A body that fails to unmarshal gets the same plain
	// JSON error whether or not it asked to stream.
	wantsStream := gjson.GetBytes(raw, "stream").Bool()

	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(c, apperrors.NewInvalidRequest("invalid request body: %v", err))
		return
	}
	req.Stream = req.Stream || wantsStream

	snap := h.cfg.Snapshot()
	tables := router.Tables{Custom: snap.CustomModelMapping, OpenAI: snap.OpenAIModelMapping, Anthropic: snap.AnthropicModelMapping}
	body, caps := openai.BuildRequest(&req, tables)
	sessionID := deriveOpenAISessionID(&req)

	if req.Stream {
		h.handleStream(c, req.Model, caps.FinalModel, body, sessionID, start)
		return
	}
	h.handleNonStream(c, req.Model, caps.FinalModel, body, sessionID, start)
}

// Completions handles POST /v1/completions, the legacy text-completion
// route; this relay maps it onto the same chat pipeline since v1internal
// has no separate legacy surface, wrapping the prompt as a single user
// message.
func (h *ChatHandler) Completions(c *gin.Context) {
	start := time.Now()
	var legacy struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream,omitempty"`
	}
	if err := c.ShouldBindJSON(&legacy); err != nil {
		writeError(c, apperrors.NewInvalidRequest("invalid request body: %v", err))
		return
	}

	req := openai.ChatCompletionRequest{
		Model:    legacy.Model,
		Messages: []openai.ChatMessage{{Role: "user", Content: legacy.Prompt}},
		Stream:   legacy.Stream,
	}
	snap := h.cfg.Snapshot()
	tables := router.Tables{Custom: snap.CustomModelMapping, OpenAI: snap.OpenAIModelMapping, Anthropic: snap.AnthropicModelMapping}
	body, caps := openai.BuildRequest(&req, tables)
	sessionID := deriveOpenAISessionID(&req)

	if req.Stream {
		h.handleStream(c, req.Model, caps.FinalModel, body, sessionID, start)
		return
	}
	h.handleNonStream(c, req.Model, caps.FinalModel, body, sessionID, start)
}

func deriveOpenAISessionID(req *openai.ChatCompletionRequest) string {
	messages := make([]session.OpenAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, session.OpenAIMessage{Role: m.Role, Content: openAIMessageText(m)})
	}
	return session.DeriveOpenAISessionID(req.Model, messages)
}

func openAIMessageText(m openai.ChatMessage) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, raw := range content {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if t, _ := part["type"].(string); t == "text" {
				if text, _ := part["text"].(string); text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (h *ChatHandler) handleNonStream(c *gin.Context, originalModel, mappedModel string, body map[string]interface{}, sessionID string, start time.Time) {
	var resp *openai.ChatCompletionResponse
	var acctEmail string
	_, err := h.withAccount(c.Request.Context(), mappedModel, sessionID, func(acc *store.Account, token string) error {
		acctEmail = acc.Email
		env := upstream.NewEnvelope(h.resolveProjectID(c.Request.Context(), acc, token), mappedModel, body)
		raw, callErr := h.upstreamClient.Call(c.Request.Context(), token, env)
		if callErr != nil {
			return callErr
		}
		parsed, convErr := openai.ConvertResponse(raw, originalModel)
		if convErr != nil {
			return apperrors.NewTransformError("convert response: %v", convErr)
		}
		resp = parsed
		return nil
	})

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), originalModel, mappedModel, acctEmail, err.Error(), 0, 0)
		writeError(c, err)
		return
	}

	inTok, outTok := 0, 0
	if resp.Usage != nil {
		inTok, outTok = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	h.logRequest(c, durationMs, http.StatusOK, originalModel, mappedModel, acctEmail, "", inTok, outTok)
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, originalModel, mappedModel string, body map[string]interface{}, sessionID string, start time.Time) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, apperrors.NewTransformError("streaming unsupported"))
		return
	}

	id := "chatcmpl-" + uuid.New().String()
	var acctEmail string
	headersSent := false
	_, err := h.withAccount(c.Request.Context(), mappedModel, sessionID, func(acc *store.Account, token string) error {
		acctEmail = acc.Email
		env := upstream.NewEnvelope(h.resolveProjectID(c.Request.Context(), acc, token), mappedModel, body)
		events, errCh := h.upstreamClient.Stream(c.Request.Context(), token, env)

		if !headersSent {
			setOpenAISSEHeaders(c)
			headersSent = true
		}
		for chunk := range openai.StreamChunks(events, id, originalModel) {
			if werr := writeOpenAIChunk(c.Writer, flusher, chunk); werr != nil {
				logging.Warnf("[chat] write sse chunk: %v", werr)
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
		h.logRequest(c, durationMs, apperrors.HTTPStatusFromError(err), originalModel, mappedModel, acctEmail, err.Error(), 0, 0)
		return
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
	h.logRequest(c, durationMs, http.StatusOK, originalModel, mappedModel, acctEmail, "", 0, 0)
}

func setOpenAISSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}

func writeOpenAIChunk(w http.ResponseWriter, flusher http.Flusher, chunk openai.ChatCompletionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
