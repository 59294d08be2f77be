// Package apperrors implements the proxy's error-kind hierarchy: one
// concrete type per spec error kind (InvalidRequest, Unauthorized,
// AccountUnavailable, RateLimited, UpstreamTransport, UpstreamStatus,
// TransformError, PayloadTooLarge), a shared JSON wire shape, and a
// single dispatcher mapping any of them to an HTTP status.
package apperrors

import (
	"encoding/json"
	"fmt"
)

// Kind names a proxy error kind; used as the machine token in the wire body.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request_error"
	KindUnauthorized       Kind = "authentication_error"
	KindAccountUnavailable Kind = "account_unavailable_error"
	KindRateLimited        Kind = "rate_limit_error"
	KindUpstreamTransport  Kind = "upstream_transport_error"
	KindUpstreamStatus     Kind = "upstream_status_error"
	KindTransformError     Kind = "transform_error"
	KindPayloadTooLarge    Kind = "payload_too_large_error"
)

// ProxyError is the common shape every error kind embeds.
type ProxyError struct {
	KindValue Kind                   `json:"-"`
	Message   string                 `json:"-"`
	Retryable bool                   `json:"-"`
	Metadata  map[string]interface{} `json:"-"`
}

func (e *ProxyError) Error() string { return e.Message }

// Body renders the spec's wire shape: {"error":{"message":...,"type":...}}.
func (e *ProxyError) Body() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.Message,
			"type":    string(e.KindValue),
		},
	}
}

func (e *ProxyError) MarshalJSON() ([]byte, error) { return json.Marshal(e.Body()) }

func newBase(kind Kind, retryable bool, format string, args ...interface{}) *ProxyError {
	return &ProxyError{KindValue: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// InvalidRequestError — malformed or semantically invalid client input. -> 400
type InvalidRequestError struct{ *ProxyError }

func NewInvalidRequest(format string, args ...interface{}) *InvalidRequestError {
	return &InvalidRequestError{newBase(KindInvalidRequest, false, format, args...)}
}

// UnauthorizedError — missing/invalid proxy auth key, or an upstream auth
// failure that cannot be resolved by refresh. -> 401/403
type UnauthorizedError struct{ *ProxyError }

func NewUnauthorized(format string, args ...interface{}) *UnauthorizedError {
	return &UnauthorizedError{newBase(KindUnauthorized, false, format, args...)}
}

// AccountUnavailableError — no usable account in the pool. -> 503
type AccountUnavailableError struct {
	*ProxyError
	AllRateLimited bool
}

func NewAccountUnavailable(allRateLimited bool, format string, args ...interface{}) *AccountUnavailableError {
	return &AccountUnavailableError{newBase(KindAccountUnavailable, allRateLimited, format, args...), allRateLimited}
}

// RateLimitedError — upstream 429; RetryAfterMs carries the parsed delay. -> 429
type RateLimitedError struct {
	*ProxyError
	RetryAfterMs int64
	AccountEmail string
}

func NewRateLimited(retryAfterMs int64, accountEmail string, format string, args ...interface{}) *RateLimitedError {
	e := newBase(KindRateLimited, true, format, args...)
	return &RateLimitedError{e, retryAfterMs, accountEmail}
}

// UpstreamTransportError — network/transport failure reaching upstream. -> 502
type UpstreamTransportError struct{ *ProxyError }

func NewUpstreamTransport(format string, args ...interface{}) *UpstreamTransportError {
	return &UpstreamTransportError{newBase(KindUpstreamTransport, true, format, args...)}
}

// UpstreamStatusError — upstream answered with a non-2xx, non-429 status. -> 502
type UpstreamStatusError struct {
	*ProxyError
	StatusCode int
	Body       string // truncated to a bounded prefix by the caller
}

func NewUpstreamStatus(statusCode int, body string, format string, args ...interface{}) *UpstreamStatusError {
	e := newBase(KindUpstreamStatus, statusCode >= 500, format, args...)
	return &UpstreamStatusError{e, statusCode, body}
}

// TransformError — a bug indicator: the mapper produced something it
// shouldn't have been able to produce. -> 500
type TransformError struct{ *ProxyError }

func NewTransformError(format string, args ...interface{}) *TransformError {
	return &TransformError{newBase(KindTransformError, false, format, args...)}
}

// PayloadTooLargeError — audio upload over the 15 MB cap. -> 413
type PayloadTooLargeError struct{ *ProxyError }

func NewPayloadTooLarge(format string, args ...interface{}) *PayloadTooLargeError {
	return &PayloadTooLargeError{newBase(KindPayloadTooLarge, false, format, args...)}
}

// HTTPStatusFromError maps any error kind above to its spec-mandated
// HTTP status. Errors that are not one of ours map to 500.
func HTTPStatusFromError(err error) int {
	switch err.(type) {
	case *InvalidRequestError:
		return 400
	case *UnauthorizedError:
		return 401
	case *AccountUnavailableError:
		return 503
	case *RateLimitedError:
		return 429
	case *UpstreamTransportError:
		return 502
	case *UpstreamStatusError:
		return 502
	case *TransformError:
		return 500
	case *PayloadTooLargeError:
		return 413
	default:
		return 500
	}
}

// Body renders the wire body for any error, falling back to a generic
// internal_error shape for errors outside this hierarchy.
func Body(err error) map[string]interface{} {
	type bodier interface{ Body() map[string]interface{} }
	if b, ok := err.(bodier); ok {
		return b.Body()
	}
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"type":    "internal_error",
		},
	}
}

// RetryAfterMs extracts the retry-after delay carried by a RateLimitedError, if any.
func RetryAfterMs(err error) (int64, bool) {
	if rl, ok := err.(*RateLimitedError); ok {
		return rl.RetryAfterMs, true
	}
	return 0, false
}
