package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(cfg *config.Config) *gin.Engine {
	engine := gin.New()
	engine.Use(APIKeyAuth(cfg))
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/v1/chat/completions", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func TestAPIKeyAuthOffModeAllowsEverything(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthOff
	engine := newTestEngine(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuthStrictRejectsEmptyConfiguredKey(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthStrict
	cfg.APIKey = ""
	engine := newTestEngine(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.Header.Set("X-API-Key", "anything")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuthStrictRejectsWrongKey(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthStrict
	cfg.APIKey = "secret"
	engine := newTestEngine(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.Header.Set("X-API-Key", "wrong")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuthAcceptsBearerAndXAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthStrict
	cfg.APIKey = "secret"
	engine := newTestEngine(cfg)

	w1 := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req1.Header.Set("Authorization", "Bearer secret")
	engine.ServeHTTP(w1, req1)
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req2.Header.Set("X-API-Key", "secret")
	engine.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestAPIKeyAuthAllExceptHealthExemptsHealthz(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = config.AuthAllExceptHealth
	cfg.APIKey = "secret"
	engine := newTestEngine(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSBypassesPreflight(t *testing.T) {
	engine := gin.New()
	engine.Use(CORS())
	engine.OPTIONS("/v1/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
