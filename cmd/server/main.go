package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"quotepulse-backend/internal/config"
	"quotepulse-backend/internal/database"
	"quotepulse-backend/internal/handlers"
	"quotepulse-backend/internal/logging"
	"quotepulse-backend/internal/middleware"
	"quotepulse-backend/internal/presence"
	"quotepulse-backend/internal/repository"
	"quotepulse-backend/internal/router"
	"quotepulse-backend/internal/services"
	"quotepulse-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logging.Init(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON || cfg.IsProduction(),
	})
	log := logging.WithComponent("server")
	log.Info().Str("env", cfg.Env).Msg("Starting quotepulse backend")

	// ──── Step 2: Run Database Migrations ────
	if cfg.RunMigrations {
		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Database migration failed")
		}
		log.Info().Uint("version", version).Msg("Database migrations applied")
	}

	// ──── Step 3: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("PostgreSQL connection failed")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// ──── Step 4: Initialize Redis (optional) ────
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer redisClient.Close()
		log.Info().Msg("Redis connected, ingest de-duplication enabled")
	}

	// ──── Initialize Repositories ────
	activityRepo := repository.NewActivityRepo(pool)
	quoteRepo := repository.NewQuoteRepo(pool)

	// ──── Step 5: Start Presence ────
	manager := presence.NewManager(presence.ManagerOptions{
		Logger:      logging.WithComponent("presence"),
		IdleTimeout: cfg.HubIdleTimeout,
	})
	wsHandler := websocket.NewHandler(manager, logging.WithComponent("websocket"))

	// ──── Initialize Handlers ────
	var activityOpts []handlers.ActivityOption
	if redisClient != nil {
		activityOpts = append(activityOpts, handlers.WithDedupe(repository.NewDedupe(redisClient)))
	}
	activityHandler := handlers.NewActivityHandler(activityRepo, quoteRepo, logging.WithComponent("activity"), activityOpts...)
	viewersHandler := handlers.NewViewersHandler(manager, logging.WithComponent("viewers"))
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	if !jwtAuth.Enabled() {
		log.Warn().Msg("JWT_SECRET is not set, the activity read API is unauthenticated")
	}

	// ──── Step 6: Start Retention Sweeper ────
	sweeper := services.NewRetentionSweeper(
		activityRepo,
		time.Duration(cfg.ActivityRetentionDays)*24*time.Hour,
		nil,
		logging.WithComponent("retention"),
	)
	sweeper.Start()

	// ──── Step 7: Start HTTP Server ────
	r := router.New(jwtAuth, activityHandler, viewersHandler, wsHandler, router.Options{
		FrontendURL:     cfg.FrontendURL,
		IngestRateLimit: cfg.IngestRateLimit,
		Logger:          logging.WithComponent("http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down")
		sweeper.Stop()
		wsHandler.CloseAll()
		manager.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	log.Info().
		Str("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)).
		Str("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws/quote/{documentId}", cfg.Port)).
		Msg("Quotepulse backend ready")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
	<-shutdownDone
}
