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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/clipforge/governor/config"
	"github.com/clipforge/governor/internal/alert"
	"github.com/clipforge/governor/internal/audit"
	"github.com/clipforge/governor/internal/auth"
	"github.com/clipforge/governor/internal/governor"
	"github.com/clipforge/governor/internal/httpapi"
	"github.com/clipforge/governor/internal/seeder"
	"github.com/clipforge/governor/internal/telemetry"
	"github.com/clipforge/governor/pkg/ratelimit"
)

func main() {
	// 1. Load config (the only place governance fails loudly)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("governor", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init audit trail
	trail := audit.NewPostgresStore(pool)

	// 7. Init admission rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 8. Init alert sink
	var sink alert.Sink = alert.LogSink{}
	if cfg.AlertWebhookURL != "" {
		sink = alert.NewWebhookSink(cfg.AlertWebhookURL)
	}

	// 9. Build the governor
	gov := governor.New(governor.Config{
		Table: cfg.Thresholds,
		Sink:  sink,
		Keys:  cfg.ServiceKeys,
	})

	// 10. Init handler
	tracer := otel.GetTracerProvider().Tracer("governor")
	handler := httpapi.NewHandler(gov, trail, limiter, tracer)

	// 11. Seed test worker key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
	}

	// 12. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"governor"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/admission", handler.HandleAdmission)
		r.Post("/v1/outcomes", handler.HandleOutcome)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Post("/v1/scan", handler.HandleScan)
		r.Get("/v1/services/{service}/ban-indicators", handler.HandleBanIndicators)
		r.Post("/v1/services/{service}/emergency-stop", handler.HandleEmergencyStop)
		r.Delete("/v1/services/{service}/emergency-stop", handler.HandleClearEmergencyStop)
	})

	// 13. Graceful shutdown
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
		log.Printf("Governance service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
