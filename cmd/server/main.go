// signdesk - sign-quote support chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/signdesk/internal/agent"
	"github.com/ashureev/signdesk/internal/api"
	"github.com/ashureev/signdesk/internal/chat"
	"github.com/ashureev/signdesk/internal/config"
	"github.com/ashureev/signdesk/internal/crm"
	"github.com/ashureev/signdesk/internal/identity"
	"github.com/ashureev/signdesk/internal/metrics"
	"github.com/ashureev/signdesk/internal/middleware"
	"github.com/ashureev/signdesk/internal/session"
	"github.com/ashureev/signdesk/internal/sheets"
	"github.com/ashureev/signdesk/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Durable storage: primary when reachable, local files otherwise.
	primary, err := store.OpenPrimary(cfg.PrimaryDSN)
	if err != nil {
		slog.Warn("Primary store unavailable, running on fallback only", "error", err)
		primary = nil
	}
	coord := store.NewCoordinator(ctx, primary, store.NewFileBackend(cfg.FallbackDir), store.CoordinatorOptions{
		OperationTimeout: cfg.Timeouts.Store,
		ProbeTimeout:     cfg.Timeouts.Probe,
		Logger:           logger,
		Metrics:          m,
	})
	defer func() {
		if closeErr := coord.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()
	slog.Info("Store ready", "primary_reachable", coord.PrimaryReachable(), "fallback_dir", cfg.FallbackDir)

	sessions := session.New(coord, session.Options{
		Size:   cfg.Session.CacheSize,
		TTL:    cfg.Session.CacheTTL,
		Logger: logger,
	})

	// Spreadsheet export (optional).
	var sheet sheets.Sheet
	if cfg.SheetsEnabled() {
		gs, err := sheets.OpenGoogleSheet(ctx, sheets.GoogleOptions{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			SheetName:       cfg.Sheets.SheetName,
			CredentialsJSON: []byte(cfg.Sheets.CredentialsJSON),
			CredentialsFile: cfg.Sheets.CredentialsFile,
		})
		if err != nil {
			slog.Warn("Spreadsheet export disabled", "error", err)
		} else {
			sheet = gs
			slog.Info("Spreadsheet export enabled", "spreadsheet_id", cfg.Sheets.SpreadsheetID)
		}
	}
	sink := sheets.NewSink(sheet, coord, sheets.SinkOptions{
		Timeout: cfg.Timeouts.Sheets,
		Logger:  logger,
		Metrics: m,
	})

	// CRM sync (optional).
	var crmClient crm.Client
	if cfg.CRMEnabled() {
		hs, err := crm.NewHubSpot(crm.HubSpotOptions{
			Token:   cfg.CRM.Token,
			BaseURL: cfg.CRM.BaseURL,
			RPS:     cfg.CRM.RPS,
			Timeout: cfg.Timeouts.CRM,
		})
		if err != nil {
			slog.Warn("CRM sync disabled", "error", err)
		} else {
			crmClient = hs
			slog.Info("CRM sync enabled", "base_url", cfg.CRM.BaseURL)
		}
	}
	policy := crm.NewPolicy(crmClient, sessions, coord, crm.PolicyOptions{
		SyncInterval: cfg.CRM.SyncInterval,
		Timeout:      cfg.Timeouts.CRM,
		Logger:       logger,
		Metrics:      m,
	})

	// Reply generation.
	var (
		responder agent.Responder
		health    api.HealthChecker
	)
	if cfg.Responder.Address != "" {
		slog.Info("Connecting to responder via gRPC", "address", cfg.Responder.Address)
		client, err := agent.NewGrpcClient(ctx, agent.Config{
			Address:        cfg.Responder.Address,
			ConnectTimeout: cfg.Timeouts.Connect,
			RequestTimeout: cfg.Timeouts.Generate,
			HistoryLimit:   cfg.Responder.HistoryLimit,
		}, logger)
		if err != nil {
			slog.Warn("Responder unavailable, turns will return the apology reply", "error", err)
		} else {
			responder = client
			health = client
		}
	} else {
		slog.Info("Reply generation disabled (RESPONDER_ADDR not set)")
	}
	replies := agent.NewService(responder, cfg.Timeouts.Generate)
	defer replies.Close()

	orch := chat.New(sessions, coord, sink, policy, replies, chat.Options{
		Logger:  logger,
		Metrics: m,
	})

	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	chatHandler := api.NewHandler(orch, limiter, logger)
	healthHandler := api.NewHealthHandler(coord, health, policy.Enabled(), sink.Enabled())
	sockets := api.NewSocketRegistry()
	chatSocket := api.NewChatSocket(chatHandler, sockets, cfg.AllowedOrigins())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	chatHandler.RegisterRoutes(r)
	r.Get("/ws/chat", chatSocket.ServeHTTP)

	// No WriteTimeout: a turn can outlast any fixed bound while the
	// responder generates, and WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	sockets.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
