// Package server wires together the account store, scheduler,
// upstream clients, and per-dialect mappers behind the gin engine
// exposed to clients. Grounded on go-backend/internal/server/server.go
// for the route table shape, generalized from the teacher's single
// Antigravity-flavored Claude surface to the full Claude/OpenAI/Gemini/
// audio dialect set spec 6 names.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/kestrelmux/antigravity-relay/internal/authmw"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/server/handlers"
	"github.com/kestrelmux/antigravity-relay/internal/signature"
	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

// Server holds every dependency a request handler needs and owns the
// route table.
type Server struct {
	cfg            *config.Config
	kv             store.KVStore
	scheduler      *scheduler.Scheduler
	credentials    *scheduler.Credentials
	upstreamClient *upstream.Client
	zaiForwarder   *upstream.ZaiForwarder
	monitor        *monitor.Monitor
	signatureCache *signature.Cache
}

// New builds a Server from its already-constructed dependencies; the
// caller (cmd/server) decides which KVStore backend and timeouts to use.
func New(cfg *config.Config, kv store.KVStore, sched *scheduler.Scheduler, creds *scheduler.Credentials, upstreamClient *upstream.Client, zaiForwarder *upstream.ZaiForwarder, mon *monitor.Monitor, sigCache *signature.Cache) *Server {
	return &Server{
		cfg:            cfg,
		kv:             kv,
		scheduler:      sched,
		credentials:    creds,
		upstreamClient: upstreamClient,
		zaiForwarder:   zaiForwarder,
		monitor:        mon,
		signatureCache: sigCache,
	}
}

// SetupRoutes mounts every spec-mandated route on engine, behind the
// shared CORS/auth/logging middleware chain.
func (s *Server) SetupRoutes(engine *gin.Engine) {
	engine.Use(authmw.CORS())
	engine.Use(authmw.RequestLogging())
	engine.Use(authmw.SilentHandler())
	engine.Use(authmw.APIKeyAuth(s.cfg))

	health := handlers.NewHealthHandler()
	engine.GET("/healthz", health.Health)
	engine.GET("/health", health.Health)

	models := handlers.NewModelsHandler(s.cfg)
	engine.GET("/v1/models", models.ListModels)

	detect := handlers.NewDetectHandler(s.cfg)
	engine.POST("/v1/models/detect", detect.Detect)

	messages := handlers.NewMessagesHandler(s.cfg, s.kv, s.scheduler, s.credentials, s.upstreamClient, s.monitor, s.zaiForwarder, s.signatureCache)
	engine.POST("/v1/messages", messages.Messages)

	chat := handlers.NewChatHandler(s.cfg, s.kv, s.scheduler, s.credentials, s.upstreamClient, s.monitor)
	engine.POST("/v1/chat/completions", chat.ChatCompletions)
	engine.POST("/v1/completions", chat.Completions)

	geminiH := handlers.NewGeminiHandler(s.cfg, s.kv, s.scheduler, s.credentials, s.upstreamClient, s.monitor)
	engine.POST("/v1beta/models/:modelAction", geminiH.GenerateContent)

	audioH := handlers.NewAudioHandler(s.cfg, s.kv, s.scheduler, s.credentials, s.upstreamClient, s.monitor)
	engine.POST("/v1/audio/transcriptions", audioH.Transcriptions)
}
