// Package main provides the proxy server entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/server"
	"github.com/kestrelmux/antigravity-relay/internal/signature"
	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

func main() {
	var (
		devMode      bool
		storeBackend string
		dbPath       string
		redisAddr    string
		redisDB      int
		configPath   string
		port         int
		host         string
	)

	flag.BoolVar(&devMode, "dev-mode", false, "Enable developer mode (verbose logging)")
	flag.StringVar(&storeBackend, "store", "", "Account store backend: memory/sqlite/redis (default: sqlite)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (default: ~/.antigravity-relay/relay.db)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address when -store=redis")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis DB index when -store=redis")
	flag.StringVar(&configPath, "config", "", "YAML config file path")
	flag.IntVar(&port, "port", 0, "Server port (default: 8045)")
	flag.StringVar(&host, "host", "", "Bind address (default: 127.0.0.1)")
	flag.Parse()

	if os.Getenv("DEBUG") == "true" || os.Getenv("DEV_MODE") == "true" {
		devMode = true
	}
	logging.SetDebug(devMode)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logging.Warnf("[startup] failed to load config from %s: %v", configPath, err)
		cfg = config.Default()
	}
	if port != 0 {
		cfg.ListenPort = port
	}
	if host != "" {
		cfg.ListenAddr = host
	}
	cfg.Debug = devMode

	kv, closeStore, err := openStore(storeBackend, dbPath, redisAddr, redisDB)
	if err != nil {
		logging.Errorf("[startup] failed to open account store: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	sched := scheduler.New(kv, cfg)
	creds := scheduler.NewCredentials(kv)
	upstreamClient := upstream.NewClient(time.Duration(cfg.RequestTimeoutSeconds) * time.Second)
	zaiForwarder := upstream.NewZaiForwarder(time.Duration(cfg.RequestTimeoutSeconds) * time.Second)
	mon := monitor.New(500)
	mon.SetEnabled(cfg.MonitorEnabled)
	if logStore, closeLogStore, err := openLogStore(dbPath); err != nil {
		logging.Warnf("[startup] failed to open persisted log store, request log will be in-memory only: %v", err)
	} else {
		mon.SetLogStore(logStore)
		defer closeLogStore()
	}
	sigCache := signature.New()

	if !devMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	srv := server.New(cfg, kv, sched, creds, upstreamClient, zaiForwarder, mon, sigCache)
	srv.SetupRoutes(engine)

	pruneCtx, cancelPrune := context.WithCancel(context.Background())
	defer cancelPrune()
	go mon.RunBackgroundPrune(pruneCtx)

	addr := fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.Infof("[startup] listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("[startup] server failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Infof("[shutdown] stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logging.Errorf("[shutdown] forced shutdown: %v", err)
		os.Exit(1)
	}
	logging.Infof("[shutdown] server stopped")
}

// openStore picks the KVStore backend from -store, defaulting to a
// sqlite file under the user's home directory so an account pool
// written into the store survives restarts without requiring Redis.
func openStore(backend, dbPath, redisAddr string, redisDB int) (store.KVStore, func(), error) {
	switch backend {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "redis":
		if redisAddr == "" {
			redisAddr = "127.0.0.1:6379"
		}
		rdb := goredis.NewClient(&goredis.Options{Addr: redisAddr, DB: redisDB})
		return store.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	case "", "sqlite":
		if dbPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				home = "."
			}
			dir := filepath.Join(home, ".antigravity-relay")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
			dbPath = filepath.Join(dir, "relay.db")
		}
		db, err := store.OpenSQLiteStore(dbPath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// openLogStore opens the request-log sqlite database, kept separate
// from whichever backend holds the account pool since the log feed is
// an independent concern (grounded on modules/proxy_db.rs keeping its
// own proxy_logs.db alongside the account store). dbPath is the -db
// flag value, used only to pick a sibling directory when set.
func openLogStore(dbPath string) (monitor.LogStore, func(), error) {
	dir := ""
	if dbPath != "" {
		dir = filepath.Dir(dbPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".antigravity-relay")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := monitor.OpenSQLiteLogStore(filepath.Join(dir, "proxy_logs.db"))
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}
