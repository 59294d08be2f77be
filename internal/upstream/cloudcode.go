// Package upstream sends already-mapped requests to Google's Cloud
// Code v1internal API and to the optional z.ai Anthropic-compatible
// endpoint. It knows the wire envelope and the HTTP-level retry
// posture (endpoint fallback, status classification) but nothing about
// Claude/OpenAI/Gemini client shapes — that belongs to internal/mapper.
// Grounded on internal/cloudcode/{client,request_builder,streaming_handler}.go.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/retrydelay"
)

// CloudCodeEnvelope is the wrapped request body the v1internal API
// expects: the already-mapped Google request nested under project,
// model and bookkeeping fields.
type CloudCodeEnvelope struct {
	Project     string                 `json:"project"`
	Model       string                 `json:"model"`
	Request     map[string]interface{} `json:"request"`
	UserAgent   string                 `json:"userAgent"`
	RequestType string                 `json:"requestType"`
	RequestID   string                 `json:"requestId"`
}

// NewEnvelope wraps a mapped Google request for the given project/model.
func NewEnvelope(projectID, model string, googleRequest map[string]interface{}) *CloudCodeEnvelope {
	return &CloudCodeEnvelope{
		Project:     projectID,
		Model:       model,
		Request:     googleRequest,
		UserAgent:   "antigravity",
		RequestType: "text",
		RequestID:   "agent-" + uuid.New().String(),
	}
}

// BuildHeaders builds the headers for a v1internal call: bearer auth,
// the Antigravity client identity headers, and the content negotiation
// header for either a JSON or an SSE response.
func BuildHeaders(token, model, accept string) map[string]string {
	if accept == "" {
		accept = "application/json"
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	for k, v := range config.AntigravityHeaders() {
		headers[k] = v
	}
	if config.GetModelFamily(model) == config.FamilyClaude && config.IsThinkingModel(model) {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}
	if accept != "application/json" {
		headers["Accept"] = accept
	}
	return headers
}

// Event is one raw Server-Sent Event frame: an SSE "event:" name (often
// empty, since Cloud Code only sends "data:" lines) and its payload,
// still in Google's wire shape for the mapper layer to decode.
type Event struct {
	Name string
	Data json.RawMessage
}

// Client sends requests to the v1internal API, falling over between
// the daily and prod endpoints on transport failures and 5xx answers.
type Client struct {
	http *http.Client
}

// NewClient builds a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Stream issues a streaming v1internal call, returning a channel of
// decoded SSE events and a channel that carries at most one terminal
// error. Both channels are closed when the call finishes.
func (c *Client) Stream(ctx context.Context, token string, env *CloudCodeEnvelope) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		if err := c.streamOnce(ctx, token, env, events); err != nil {
			errs <- err
		}
	}()

	return events, errs
}

func (c *Client) streamOnce(ctx context.Context, token string, env *CloudCodeEnvelope, events chan<- Event) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return apperrors.NewTransformError("upstream: marshal envelope: %v", err)
	}
	headers := BuildHeaders(token, env.Model, "text/event-stream")

	var lastErr error
	for _, endpoint := range config.AntigravityEndpointFallbacks {
		url := endpoint + "/v1internal:streamGenerateContent?alt=sse"

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return apperrors.NewUpstreamTransport("upstream: build request: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			logging.Warnf("[upstream] network error at %s: %v", endpoint, err)
			lastErr = apperrors.NewUpstreamTransport("upstream: %v", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			errText := string(body)

			terminal, retry := classifyStatus(resp.StatusCode, errText)
			if terminal != nil {
				return terminal
			}
			logging.Warnf("[upstream] %d at %s: %.200s", resp.StatusCode, endpoint, errText)
			lastErr = retry
			continue
		}

		err = scanSSE(resp.Body, events)
		resp.Body.Close()
		return err
	}

	if lastErr != nil {
		return lastErr
	}
	return apperrors.NewUpstreamTransport("upstream: all endpoints failed")
}

// Call issues a non-streaming v1internal call and returns the raw
// Google response body.
func (c *Client) Call(ctx context.Context, token string, env *CloudCodeEnvelope) (json.RawMessage, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, apperrors.NewTransformError("upstream: marshal envelope: %v", err)
	}
	headers := BuildHeaders(token, env.Model, "application/json")

	var lastErr error
	for _, endpoint := range config.AntigravityEndpointFallbacks {
		url := endpoint + "/v1internal:generateContent"

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, apperrors.NewUpstreamTransport("upstream: build request: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = apperrors.NewUpstreamTransport("upstream: %v", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = apperrors.NewUpstreamTransport("upstream: read response: %v", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			terminal, retry := classifyStatus(resp.StatusCode, string(body))
			if terminal != nil {
				return nil, terminal
			}
			lastErr = retry
			continue
		}
		return body, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperrors.NewUpstreamTransport("upstream: all endpoints failed")
}

// loadCodeAssistRequest is the body v1internal:loadCodeAssist expects;
// DuetProject is set to the shared demo project since the call's only
// purpose here is discovering the caller's own project binding, not
// onboarding into a specific one.
type loadCodeAssistRequest struct {
	Metadata loadCodeAssistMetadata `json:"metadata"`
}

type loadCodeAssistMetadata struct {
	IDEType     string `json:"ideType"`
	Platform    string `json:"platform"`
	PluginType  string `json:"pluginType"`
	DuetProject string `json:"duetProject,omitempty"`
}

type loadCodeAssistResponse struct {
	CloudAICompanionProject interface{} `json:"cloudaicompanionProject,omitempty"`
}

// LoadCodeAssist discovers the Cloud Code project id bound to token's
// account. ok is false when the API answered but never returned a
// project id at all, meaning the account hasn't been onboarded and the
// caller should fall back to a synthesized id. Grounded on
// cloudcode.GetSubscriptionTier's loadCodeAssist call.
func (c *Client) LoadCodeAssist(ctx context.Context, token string) (projectID string, ok bool, err error) {
	reqBody := loadCodeAssistRequest{Metadata: loadCodeAssistMetadata{
		IDEType:     "IDE_UNSPECIFIED",
		Platform:    "PLATFORM_UNSPECIFIED",
		PluginType:  "GEMINI",
		DuetProject: config.DefaultProjectID,
	}}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, apperrors.NewTransformError("upstream: marshal loadCodeAssist request: %v", err)
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	for k, v := range config.AntigravityHeaders() {
		headers[k] = v
	}

	var lastErr error
	for _, endpoint := range config.LoadCodeAssistEndpoints {
		url := endpoint + "/v1internal:loadCodeAssist"

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return "", false, apperrors.NewUpstreamTransport("upstream: build request: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			logging.Warnf("[upstream] loadCodeAssist network error at %s: %v", endpoint, err)
			lastErr = apperrors.NewUpstreamTransport("upstream: %v", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = apperrors.NewUpstreamTransport("upstream: read response: %v", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			logging.Warnf("[upstream] loadCodeAssist %d at %s: %.200s", resp.StatusCode, endpoint, string(body))
			lastErr = apperrors.NewUpstreamStatus(resp.StatusCode, truncate(string(body), 500), "upstream: loadCodeAssist %d", resp.StatusCode)
			continue
		}

		var data loadCodeAssistResponse
		if err := json.Unmarshal(body, &data); err != nil {
			lastErr = apperrors.NewTransformError("upstream: decode loadCodeAssist response: %v", err)
			continue
		}

		switch v := data.CloudAICompanionProject.(type) {
		case string:
			if v != "" {
				return v, true, nil
			}
		case map[string]interface{}:
			if id, ok := v["id"].(string); ok && id != "" {
				return id, true, nil
			}
		}
		return "", false, nil
	}

	if lastErr != nil {
		return "", false, lastErr
	}
	return "", false, apperrors.NewUpstreamTransport("upstream: loadCodeAssist: all endpoints failed")
}

// classifyStatus turns a non-200 v1internal response into either a
// terminal error (stop trying, the caller owns next steps such as
// account failover) or a retryable one (try the next endpoint first).
func classifyStatus(status int, body string) (terminal error, retryable error) {
	switch {
	case status == http.StatusUnauthorized:
		if isPermanentAuthFailure(body) {
			return apperrors.NewUnauthorized("upstream: auth revoked: %s", truncate(body, 200)), nil
		}
		return nil, apperrors.NewUnauthorized("upstream: auth error: %s", truncate(body, 200))
	case status == http.StatusTooManyRequests:
		delayMs, _ := retrydelay.ParseRetryDelay(body)
		return apperrors.NewRateLimited(delayMs, "", "upstream: rate limited: %s", truncate(body, 200)), nil
	case status == http.StatusBadRequest:
		return apperrors.NewInvalidRequest("upstream: invalid request: %s", truncate(body, 200)), nil
	case status >= 500:
		return nil, apperrors.NewUpstreamStatus(status, truncate(body, 500), "upstream: %d: %s", status, truncate(body, 200))
	default:
		return nil, apperrors.NewUpstreamStatus(status, truncate(body, 500), "upstream: %d: %s", status, truncate(body, 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isPermanentAuthFailure distinguishes a revoked/expired refresh token
// (not worth retrying on any endpoint) from a transient auth hiccup.
func isPermanentAuthFailure(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "invalid_grant") || strings.Contains(lower, "token has been expired or revoked")
}

// scanSSE reads "data: ..." frames off an SSE body and forwards each
// as an Event, matching Cloud Code's event-less data-only framing.
func scanSSE(body io.Reader, events chan<- Event) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			events <- Event{Name: eventName, Data: json.RawMessage(data)}
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.NewUpstreamTransport("upstream: stream read: %v", err)
	}
	return nil
}
