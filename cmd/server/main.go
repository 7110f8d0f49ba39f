package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepin/attempt-engine/internal/config"
	"github.com/prepin/attempt-engine/internal/database"
	"github.com/prepin/attempt-engine/internal/handler"
	"github.com/prepin/attempt-engine/internal/logger"
	"github.com/prepin/attempt-engine/internal/remote"
	"github.com/prepin/attempt-engine/internal/repository"
	"github.com/prepin/attempt-engine/internal/router"
	"github.com/prepin/attempt-engine/internal/service"
	"github.com/prepin/attempt-engine/internal/session"
	"github.com/prepin/attempt-engine/internal/store"
	"github.com/prepin/attempt-engine/internal/validator"
	"github.com/prepin/attempt-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting attempt engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	learnerRepo := repository.NewLearnerRepository(pool)
	templateRepo := repository.NewExamTemplateRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Engine ─────────────────────────────────────────────
	durableStore := store.NewRedisStore(rdb)
	authority := remote.NewAuthority(pool, rdb, log)
	manager := session.NewManager(durableStore, authority, session.Config{
		TickPeriod:    cfg.TickPeriod,
		FlushInterval: cfg.FlushInterval,
		SubmitTimeout: cfg.SubmitTimeout,
	}, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	attemptService := service.NewAttemptService(attemptRepo, templateRepo, manager)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, learnerRepo),
		Attempt: handler.NewAttemptHandler(attemptService, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	archiveWorker := worker.NewArchiveWorker(pool, rdb, log)
	go archiveWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Suspend live sessions: final flush of answers and remaining time.
	// Suspended attempts resume from the durable store on the next start.
	// Fresh timeout — the HTTP drain may have consumed shutdownCtx.
	suspendCtx, suspendCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer suspendCancel()
	manager.Shutdown(suspendCtx)

	// 3. Stop background workers and wait for the archive queue to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow the worker to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
