package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
)

func TestBuildHeadersAddsThinkingBetaForClaudeThinkingModels(t *testing.T) {
	headers := BuildHeaders("tok", "claude-opus-4-5-thinking", "text/event-stream")
	if headers["anthropic-beta"] != "interleaved-thinking-2025-05-14" {
		t.Fatalf("expected thinking beta header, got %q", headers["anthropic-beta"])
	}
	if headers["Authorization"] != "Bearer tok" {
		t.Fatalf("Authorization = %q", headers["Authorization"])
	}
}

func TestBuildHeadersOmitsThinkingBetaForGemini(t *testing.T) {
	headers := BuildHeaders("tok", "gemini-2.5-pro", "application/json")
	if _, ok := headers["anthropic-beta"]; ok {
		t.Fatal("gemini models should not carry the anthropic thinking beta header")
	}
}

func TestScanSSEForwardsDataFrames(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"a\":2}\n\n"
	events := make(chan Event, 4)
	if err := scanSSE(strings.NewReader(body), events); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}
	close(events)

	var got []string
	for e := range events {
		got = append(got, string(e.Data))
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(got), got)
	}
	if got[0] != `{"a":1}` || got[1] != `{"a":2}` {
		t.Fatalf("unexpected event payloads: %v", got)
	}
}

func TestScanSSESkipsDoneSentinel(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: [DONE]\n\n"
	events := make(chan Event, 4)
	if err := scanSSE(strings.NewReader(body), events); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}
	close(events)

	var count int
	for range events {
		count++
	}
	if count != 1 {
		t.Fatalf("got %d events, want 1 (DONE sentinel skipped)", count)
	}
}

func TestClassifyStatusRateLimited(t *testing.T) {
	terminal, retryable := classifyStatus(http.StatusTooManyRequests, `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"2s"}]}}`)
	if terminal == nil {
		t.Fatal("expected a terminal rate-limit error")
	}
	if retryable != nil {
		t.Fatal("rate limit should not also return a retryable error")
	}
	rl, ok := terminal.(*apperrors.RateLimitedError)
	if !ok {
		t.Fatalf("expected *RateLimitedError, got %T", terminal)
	}
	if rl.RetryAfterMs != 2000 {
		t.Fatalf("RetryAfterMs = %d, want 2000", rl.RetryAfterMs)
	}
}

func TestClassifyStatusServerErrorIsRetryable(t *testing.T) {
	terminal, retryable := classifyStatus(http.StatusServiceUnavailable, "overloaded")
	if terminal != nil {
		t.Fatal("5xx should not be terminal, it should try the next endpoint")
	}
	if retryable == nil {
		t.Fatal("expected a retryable error for 503")
	}
}

func TestClassifyStatusPermanentAuthFailure(t *testing.T) {
	terminal, _ := classifyStatus(http.StatusUnauthorized, `{"error":"invalid_grant"}`)
	if terminal == nil {
		t.Fatal("invalid_grant should be a terminal unauthorized error")
	}
	if _, ok := terminal.(*apperrors.UnauthorizedError); !ok {
		t.Fatalf("expected *UnauthorizedError, got %T", terminal)
	}
}

func TestScanSSEReadsFramesFromHTTPResponse(t *testing.T) {
	// Stream only dials the real prod/daily hosts, so this test does not
	// exercise the endpoint loop; it checks that scanSSE reads the frame
	// of a live HTTP response served by a local test server.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"ok\":true}\n\n")
	}))
	defer srv.Close()

	events := make(chan Event, 4)
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("test server request: %v", err)
	}
	if err := scanSSE(resp.Body, events); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}
	resp.Body.Close()
	close(events)

	var count int
	for range events {
		count++
	}
	if count != 1 {
		t.Fatalf("got %d events, want 1", count)
	}
}

func TestNewClientDefaultsTimeout(t *testing.T) {
	c := NewClient(0)
	if c.http.Timeout != 10*time.Minute {
		t.Fatalf("default timeout = %v, want 10m", c.http.Timeout)
	}
}

func TestStreamReturnsErrorWhenContextCanceled(t *testing.T) {
	c := NewClient(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, errs := c.Stream(ctx, "tok", NewEnvelope("proj", "claude-opus-4-5", map[string]interface{}{}))
	err := <-errs
	if err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}
