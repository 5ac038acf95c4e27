package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/handler"
	"github.com/GoPolymarket/feedgate/internal/journal"
	"github.com/GoPolymarket/feedgate/internal/market"
	"github.com/GoPolymarket/feedgate/internal/middleware"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
	"github.com/GoPolymarket/feedgate/internal/repository"
)

const mirrorQueueSize = 1024

func main() {
	// 0. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 1. Initialize Logger
	logger.Init(cfg.Log.Level)
	decimal.MarshalJSONWithoutQuotes = true

	// 2. Exchanges
	registry, err := exchange.FromConfig(cfg.Exchanges)
	if err != nil {
		log.Fatalf("Failed to initialize exchanges: %v", err)
	}
	logger.Info("Exchanges registered", "exchanges", registry.IDs())

	// 3. Initialize Persistence
	// Journal Persistence (Postgres > Memory)
	var journalRepo journal.Repo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			repo, err := repository.NewPostgresJournalRepo(context.Background(), db)
			if err == nil {
				logger.Info("✅ Connected to PostgreSQL")
				journalRepo = repo
			} else {
				logger.Error("⚠️ Failed to prepare journal schema, journal will be memory-only", "error", err)
			}
		} else {
			logger.Error("⚠️ Failed to connect to DB, journal will be memory-only", "error", err)
		}
	}
	journalSvc := journal.New(cfg.Journal.BufferSize, cfg.Journal.RingSize, journalRepo, nil)

	// Mirrors (optional)
	var sinks []market.MirrorSink
	if cfg.Redis.Addr != "" {
		redisMirror, err := repository.NewRedisMirror(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			sinks = append(sinks, redisMirror)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, mirror disabled", "error", err)
		}
	}
	if cfg.NATS.URL != "" {
		natsMirror, err := repository.NewNATSMirror(cfg, nil)
		if err == nil {
			logger.Info("✅ Connected to NATS")
			sinks = append(sinks, natsMirror)
		} else {
			logger.Error("⚠️ Failed to connect to NATS, mirror disabled", "error", err)
		}
	}
	var mirror *market.Mirror
	if len(sinks) > 0 {
		mirror = market.NewMirror(mirrorQueueSize, nil, sinks...)
	}

	// 4. Initialize Core Services
	hub := market.NewHub(registry, market.Options{
		Feeds:      cfg.Feeds,
		MaxClients: cfg.Server.MaxClients,
		Journal:    journalSvc,
		Mirror:     mirror,
	})
	hub.Start()

	retentionCtx, stopRetention := context.WithCancel(context.Background())
	go journalSvc.RunRetention(retentionCtx, time.Duration(cfg.Database.JournalRetentionDays)*24*time.Hour, time.Hour)

	// 5. Initialize Handlers
	marketHandler := handler.NewMarketHandler(hub)
	eventsHandler := handler.NewEventsHandler(journalSvc)
	wsHandler := handler.NewWSHandler(hub, cfg.Server, nil)

	// 6. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "feedgate"})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	auth := middleware.AuthMiddleware(cfg.Auth)

	// API V1 Routes
	v1 := r.Group("/v1")
	v1.Use(auth)
	{
		v1.GET("/exchanges", marketHandler.Exchanges)
		v1.GET("/exchanges/:id/markets", marketHandler.Markets)
		v1.GET("/exchanges/:id/ticker", marketHandler.Ticker)
		v1.GET("/exchanges/:id/orderbook", marketHandler.OrderBook)
		v1.GET("/exchanges/:id/ohlcv", marketHandler.OHLCV)
		v1.GET("/feeds", marketHandler.Feeds)
		v1.GET("/feeds/events", eventsHandler.List)
	}

	// Market Data Stream
	handshakes := middleware.NewIPLimiter(cfg.Server.HandshakeQPS, cfg.Server.HandshakeBurst)
	r.GET(cfg.Server.WSPath, middleware.RateLimitMiddleware(handshakes), auth, wsHandler.Serve)

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 FeedGate started", "port", cfg.Server.Port, "ws_path", cfg.Server.WSPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// hijacked WebSocket connections are not tracked by srv.Shutdown
	if err := hub.Shutdown(ctx); err != nil {
		logger.Error("Hub shutdown incomplete", "error", err)
	}
	stopRetention()
	journalSvc.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
