// Package main is the entry point for the moderation service.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lukeocodes/mod-gpt/internal/cache"
	"github.com/lukeocodes/mod-gpt/internal/config"
	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/engine"
	"github.com/lukeocodes/mod-gpt/internal/events"
	"github.com/lukeocodes/mod-gpt/internal/handler"
	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/llm"
	"github.com/lukeocodes/mod-gpt/internal/middleware"
	"github.com/lukeocodes/mod-gpt/internal/model"
	natsclient "github.com/lukeocodes/mod-gpt/internal/nats"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/internal/state"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
	"github.com/lukeocodes/mod-gpt/pkg/tracing"
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
	logger.SetGlobal(log)

	log.Info("starting moderation service")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "mod-gpt", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to Postgres and run migrations
	db, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Error("failed to run migrations", zap.Error(err))
		os.Exit(1)
	}
	if n, err := db.SeedGlobalHeuristics(ctx, heuristics.SeedRules()); err != nil {
		log.Error("failed to seed heuristics", zap.Error(err))
		os.Exit(1)
	} else if n > 0 {
		log.Info("seeded global heuristics", zap.Int("count", n))
	}

	// Connect to Redis for event dedupe. Optional: without it,
	// redelivered events are processed more than once.
	var dedupe *cache.Dedupe
	rdb, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Warn("redis unavailable, event dedupe disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		dedupe = cache.NewDedupe(rdb, cfg.DedupeTTL)
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
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
	defer natsClient.Close()

	// Ensure JetStream stream and durable consumer exist
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}
	jsConsumer, err := streamManager.EnsureConsumer(ctx)
	if err != nil {
		log.Error("failed to ensure consumer", zap.Error(err))
		os.Exit(1)
	}

	// Platform gateway client
	platformClient := platform.NewRESTClient(cfg.GatewayURL, cfg.GatewayToken)

	// Guild state, seeded with deployment-level LLM settings
	stateStore := state.New(db, cfg.DefaultModPrompt, model.LLMSettings{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey(),
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
	})
	if err := stateStore.Load(ctx); err != nil {
		log.Error("failed to load state", zap.Error(err))
		os.Exit(1)
	}

	// Reasoning provider, bounded to a fixed number of in-flight calls
	processState, err := stateStore.GetState(ctx, nil)
	if err != nil {
		log.Error("failed to read llm settings", zap.Error(err))
		os.Exit(1)
	}
	if !processState.LLM.Configured() {
		log.Warn("no LLM credentials configured, decisions degrade to heuristics only")
	}
	rawProvider, err := llm.NewProvider(processState.LLM)
	if err != nil {
		log.Error("failed to create llm provider", zap.Error(err))
		os.Exit(1)
	}
	provider := llm.NewLimiter(rawProvider, cfg.LLMMaxInFlight)

	// Conversation tracking and the decision engine
	conversations := conversation.NewManager(db, platformClient, log, conversation.Options{})
	executor := engine.NewExecutor(platformClient, log)
	var deduper engine.Deduper
	if dedupe != nil {
		deduper = dedupe
	}
	eng := engine.New(stateStore, heuristics.NewMatcher(), conversations, provider, executor, db, db, deduper, log, cfg.BotUserID)

	// Event intake from JetStream
	consumer := events.NewConsumer(jsConsumer, eng, log)
	if err := consumer.Start(); err != nil {
		log.Error("failed to start consumer", zap.Error(err))
		os.Exit(1)
	}

	// Background jobs: conversation sweeps, context refresh, scheduled ticks
	scheduler := engine.NewScheduler(eng, conversations, db, platformClient, provider, log)
	if err := scheduler.Start(); err != nil {
		log.Error("failed to start scheduler", zap.Error(err))
		os.Exit(1)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, db, dedupe)
	adminHandler := handler.NewAdminHandler(stateStore, db, conversations, eng, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Admin API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Per-user limit on the credential endpoint, on top of the
		// guild-keyed limit above.
		r.With(
			middleware.RequireScope("admin"),
			middleware.UserRateLimit(10, time.Minute),
		).Put("/llm", adminHandler.SetLLMSettings)

		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Get("/", adminHandler.GetState)
			r.Put("/persona", adminHandler.SetPersona)
			r.Put("/dry-run", adminHandler.SetDryRun)
			r.Put("/proactive", adminHandler.SetProactive)
			r.Put("/logs-channel", adminHandler.SetLogsChannel)
			r.Put("/nickname", adminHandler.SetNickname)
			r.Put("/prompt", adminHandler.SetPrompt)

			r.Post("/memories", adminHandler.AddMemory)
			r.Delete("/memories/{id}", adminHandler.DeleteMemory)

			r.Post("/context-channels", adminHandler.AddContextChannel)
			r.Delete("/context-channels/{channelID}", adminHandler.DeleteContextChannel)

			r.Get("/heuristics", adminHandler.ListHeuristics)
			r.Delete("/heuristics/{id}", adminHandler.DeactivateHeuristic)

			// Flags trigger a reasoning-provider call; limit per user.
			r.With(middleware.UserRateLimit(10, time.Minute)).
				Post("/flags", adminHandler.FlagMessage)

			r.Get("/actions", adminHandler.ListActions)

			r.Post("/channels/{channelID}/close", adminHandler.CloseConversation)
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
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Stop intake first so in-flight decisions drain before the
	// stores and connections close.
	consumer.Stop()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("stopped")
}
