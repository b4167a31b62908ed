package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/khanhng/llm-router/config"
	"github.com/khanhng/llm-router/internal/auth"
	"github.com/khanhng/llm-router/internal/billing"
	"github.com/khanhng/llm-router/internal/provider"
	"github.com/khanhng/llm-router/internal/provider/anthropic"
	"github.com/khanhng/llm-router/internal/provider/gemini"
	"github.com/khanhng/llm-router/internal/provider/openai"
	"github.com/khanhng/llm-router/internal/proxy"
	"github.com/khanhng/llm-router/internal/routing"
	"github.com/khanhng/llm-router/internal/seeder"
	"github.com/khanhng/llm-router/internal/telemetry"
	"github.com/khanhng/llm-router/internal/worker"
	"github.com/khanhng/llm-router/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("llm-router", cfg)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	logger.Info("postgres connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb, logger)

	// 6. Init billing
	billingStore := billing.NewPostgresStore(pool)
	ledger := billing.NewLedger()

	// 7. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)

	// 8. Register providers. Adapters without keys stay registered but
	// unavailable, so routing skips them instead of startup failing.
	registry := routing.NewRegistry()
	for _, p := range []provider.Provider{
		gemini.New(cfg.GeminiAPIKey),
		openai.New(cfg.OpenAIAPIKey),
		anthropic.New(cfg.AnthropicAPIKey),
	} {
		if err := registry.Register(p); err != nil {
			logger.Fatal("failed to register provider", zap.Error(err))
		}
		logger.Info("provider registered",
			zap.String("provider", p.Name()),
			zap.Bool("available", p.Available()))
	}

	// 9. Init routing manager
	routingConfig := routing.Config{
		Strategy:        routing.Strategy(cfg.RoutingStrategy),
		DefaultProvider: cfg.DefaultProvider,
		Rules:           cfg.RoutingRules(),
		FallbackOrder:   cfg.FallbackOrder,
		FallbackEnabled: cfg.FallbackEnabled,
	}
	manager := routing.NewManager(registry, routingConfig, ledger, logger)

	// 10. Init async job worker
	jobs := worker.NewRedisQueue(rdb, manager, logger)
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() {
		if err := jobs.Process(workerCtx); err != nil && err != context.Canceled {
			logger.Error("job worker stopped", zap.Error(err))
		}
	}()

	// 11. Init handler
	tracer := otel.GetTracerProvider().Tracer("llm-router")
	handler := proxy.NewHandler(manager, ledger, billingStore, jobs, limiter, tracer, logger)

	// 12. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore, logger)
	}

	// 13. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-router"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/completions", handler.HandleComplete)
		r.Post("/v1/completions/stream", handler.HandleCompleteStream)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/costs", handler.HandleCostSummary)
		r.Post("/v1/jobs", handler.HandleCreateJob)
		r.Get("/v1/jobs/{id}", handler.HandleGetJob)
	})

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("llm-router starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
