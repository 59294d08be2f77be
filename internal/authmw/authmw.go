// Package authmw implements the proxy's own client-facing auth gate
// (C10): CORS, a configurable API-key check, and request logging that
// stays quiet for noisy, non-diagnostic routes. Grounded on the
// teacher's gin middleware.
package authmw

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
)

// CORS allows any origin, mirroring the teacher's local-proxy posture:
// this server is meant to sit behind localhost or a trusted LAN, not
// behind a browser-facing origin policy.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

var noAuthPaths = map[string]bool{
	"/health":      true,
	"/healthz":     true,
	"/v1/models":   true,
	"/v1/accounts": true,
}

// APIKeyAuth enforces cfg's resolved auth mode: off lets every request
// through, strict and all_except_health require a matching bearer
// token or X-API-Key header, and all_except_health additionally
// exempts the health/status endpoints so monitoring doesn't need a key.
func APIKeyAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := cfg.ResolvedAuthMode()
		if mode == config.AuthOff {
			c.Next()
			return
		}

		if mode == config.AuthAllExceptHealth && noAuthPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		snap := cfg.Snapshot()
		key := extractKey(c)
		// spec 4.10: "reject if configured key is empty" — an unset
		// key in a mode that requires one means nothing the client
		// sends can ever match, not an open gate.
		if snap.APIKey == "" || key != snap.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Invalid or missing API key",
				},
			})
			return
		}
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("X-API-Key")
}

var silentPaths = map[string]bool{
	"/api/event_logging/batch":  true,
	"/v1/messages/count_tokens": true,
}

// RequestLogging logs method/path/status/duration for every request,
// silencing high-frequency diagnostic routes unless debug logging is on.
func RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		if silentPaths[path] && !logging.IsDebug() {
			return
		}
		if strings.HasPrefix(path, "/.well-known/") && !logging.IsDebug() {
			return
		}

		status := c.Writer.Status()
		elapsed := time.Since(start)
		entry := logging.WithFields(logging.Fields{
			"method": c.Request.Method,
			"path":   path,
			"status": status,
			"took":   elapsed.String(),
		})
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// SilentHandler 200-OKs requests that exist only so a client's own
// telemetry/event-logging POST doesn't surface as a 404 in its own logs.
func SilentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.Method == http.MethodPost && (path == "/api/event_logging/batch" || path == "/") {
			c.Status(http.StatusOK)
			c.Abort()
			return
		}
		c.Next()
	}
}
