// Package main is the entry point for the handoff console gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatdesk/handoff-console/internal/auth"
	"github.com/chatdesk/handoff-console/internal/config"
	"github.com/chatdesk/handoff-console/internal/controller"
	"github.com/chatdesk/handoff-console/internal/handler"
	"github.com/chatdesk/handoff-console/internal/middleware"
	"github.com/chatdesk/handoff-console/internal/model"
	"github.com/chatdesk/handoff-console/internal/notify"
	"github.com/chatdesk/handoff-console/internal/upstream"
	"github.com/chatdesk/handoff-console/pkg/logger"
	"github.com/chatdesk/handoff-console/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting handoff console")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "handoff-console", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect the pending-alert notifier when configured
	var notifier *notify.Notifier
	if cfg.NATSURL != "" {
		notifier, err = notify.Connect(notify.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer notifier.Close()
	}

	// Persisted upstream credentials
	credStore := auth.NewFileStore(cfg.CredentialsFile)
	creds, err := credStore.Load()
	if err != nil {
		log.Error("failed to load credentials", zap.Error(err))
		os.Exit(1)
	}
	adminID, err := creds.AdminID()
	if err != nil {
		log.Error("credentials carry no admin identity; log in first", zap.Error(err))
		os.Exit(1)
	}

	// Upstream handoff client
	client := upstream.New(upstream.Config{
		BaseURL: cfg.UpstreamBaseURL,
		Timeout: cfg.UpstreamTimeout,
	}, credStore, log, func() {
		log.Warn("upstream session expired; credentials cleared, log in again")
	})

	// Pending-growth hook
	var onGrowth controller.PendingAlertFunc
	if notifier != nil {
		onGrowth = func(added []model.ConversationSession, total int) {
			notifier.PublishPendingAlert(added, total)
		}
	}

	// Handoff controller
	ctrl := controller.New(client, adminID, controller.Intervals{
		Pending:  cfg.PendingPollInterval,
		Active:   cfg.ActivePollInterval,
		Messages: cfg.MessagePollInterval,
	}, cfg.HistoryLimit, onGrowth, log)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(notifier)
	handoffHandler := handler.NewHandoffHandler(ctrl, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1/handoff", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/pending", handoffHandler.Pending)
		r.Get("/active", handoffHandler.Active)

		r.Route("/{session_id}", func(r chi.Router) {
			r.Post("/accept", handoffHandler.Accept)
			r.Post("/open", handoffHandler.Open)
			r.Post("/reply", handoffHandler.Reply)
			r.Post("/close", handoffHandler.Close)
			r.Get("/messages", handoffHandler.Messages)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("console listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down console")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("console stopped")
}
