package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
)

// ZaiForwarder relays requests verbatim (minus a model rewrite and a
// cache_control scrub) to a z.ai-compatible Anthropic endpoint, bypassing
// the v1internal mapping path entirely. Grounded on
// original_source/.../proxy/providers/zai_anthropic.rs.
type ZaiForwarder struct {
	http *http.Client
}

// NewZaiForwarder builds a ZaiForwarder with the given per-request timeout.
func NewZaiForwarder(timeout time.Duration) *ZaiForwarder {
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	return &ZaiForwarder{http: &http.Client{Timeout: timeout}}
}

// MapModelForZai rewrites a client-supplied Claude model id onto the
// operator's configured z.ai model, honoring an explicit mapping entry
// or a "zai:"/"glm-" passthrough prefix first.
func MapModelForZai(original string, zai config.ZaiConfig) string {
	lower := strings.ToLower(original)
	if mapped, ok := zai.ModelMapping[original]; ok {
		return mapped
	}
	if mapped, ok := zai.ModelMapping[lower]; ok {
		return mapped
	}
	if strings.HasPrefix(lower, "zai:") {
		return original[4:]
	}
	if strings.HasPrefix(lower, "glm-") {
		return original
	}
	if !strings.HasPrefix(lower, "claude-") {
		return original
	}
	switch {
	case strings.Contains(lower, "opus"):
		return zai.Opus
	case strings.Contains(lower, "haiku"):
		return zai.Haiku
	default:
		return zai.Sonnet
	}
}

func joinBaseURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// passthroughHeaders is the conservative allow-list of client headers
// forwarded to z.ai; anything else (including the proxy's own API key)
// is dropped so it never leaks upstream.
var passthroughHeaders = map[string]bool{
	"content-type":      true,
	"accept":            true,
	"anthropic-version": true,
	"user-agent":        true,
	"accept-encoding":   true,
	"cache-control":     true,
}

func copyPassthroughHeaders(incoming http.Header) http.Header {
	out := make(http.Header)
	for k, v := range incoming {
		if passthroughHeaders[strings.ToLower(k)] {
			out[k] = v
		}
	}
	return out
}

// setZaiAuth mirrors whichever auth scheme the client used: x-api-key
// in, x-api-key out; Authorization in, Bearer out; neither present
// defaults to x-api-key.
func setZaiAuth(headers http.Header, incoming http.Header, apiKey string) {
	hasXAPIKey := incoming.Get("x-api-key") != ""
	hasAuth := incoming.Get("Authorization") != ""

	if hasXAPIKey || !hasAuth {
		headers.Set("x-api-key", apiKey)
	}
	if hasAuth {
		headers.Set("Authorization", "Bearer "+apiKey)
	}
}

// deepRemoveCacheControl strips any "cache_control" key from nested
// objects and arrays; z.ai rejects Anthropic prompt-caching hints with
// "Extra inputs are not permitted".
func deepRemoveCacheControl(v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		delete(val, "cache_control")
		for _, child := range val {
			deepRemoveCacheControl(child)
		}
	case []interface{}:
		for _, child := range val {
			deepRemoveCacheControl(child)
		}
	}
}

// Forward relays an Anthropic-shaped request body to the configured
// z.ai endpoint and returns the raw upstream response for the caller
// to copy back to the client (status, content-type, and body, SSE or not).
func (f *ZaiForwarder) Forward(ctx context.Context, zai config.ZaiConfig, method, path string, incoming http.Header, body map[string]interface{}) (*http.Response, error) {
	if !zai.Enabled {
		return nil, apperrors.NewInvalidRequest("zai: provider is disabled")
	}
	if strings.TrimSpace(zai.APIKey) == "" {
		return nil, apperrors.NewInvalidRequest("zai: api_key is not set")
	}

	if model, ok := body["model"].(string); ok {
		body["model"] = MapModelForZai(model, zai)
	}
	deepRemoveCacheControl(body)

	url := joinBaseURL(zai.BaseURL, path)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewTransformError("zai: encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewUpstreamTransport("zai: build request: %v", err)
	}

	headers := copyPassthroughHeaders(incoming)
	setZaiAuth(headers, incoming, zai.APIKey)
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/json")
	}
	req.Header = headers

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamTransport("zai: upstream request failed: %v", err)
	}
	return resp, nil
}

// CopyBody streams resp's body into w, matching the teacher's raw
// byte-stream passthrough (covers both SSE and plain JSON responses).
func CopyBody(w io.Writer, resp *http.Response) error {
	defer resp.Body.Close()
	_, err := io.Copy(w, resp.Body)
	return err
}
